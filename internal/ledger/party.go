package ledger

// PartyKind tags which side of the boundary a Party lives on.
type PartyKind string

const (
	PartyUser     PartyKind = "user"
	PartyExternal PartyKind = "external"
)

// Party is one side of a transaction: an internal user or an external handle
// such as a payout recipient code or the deposit processor.
type Party struct {
	Kind PartyKind
	ID   string
}

// InternalUser builds a party for a wallet owner.
func InternalUser(id string) Party {
	return Party{Kind: PartyUser, ID: id}
}

// External builds a party for an identifier owned by the payment processor.
func External(handle string) Party {
	return Party{Kind: PartyExternal, ID: handle}
}

// UserID returns the user id when the party is internal.
func (p Party) UserID() (string, bool) {
	if p.Kind != PartyUser {
		return "", false
	}
	return p.ID, true
}

// Handle returns the external handle when the party is external.
func (p Party) Handle() (string, bool) {
	if p.Kind != PartyExternal {
		return "", false
	}
	return p.ID, true
}

// IsUser reports whether the party is the given internal user.
func (p Party) IsUser(id string) bool {
	return p.Kind == PartyUser && p.ID == id
}

func (p Party) IsZero() bool {
	return p.Kind == "" && p.ID == ""
}

func (p Party) String() string {
	if p.IsZero() {
		return ""
	}
	return string(p.Kind) + ":" + p.ID
}

// ProcessorParty identifies the external processor as the source of deposits.
var ProcessorParty = External("processor")
