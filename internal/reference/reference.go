package reference

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Prefixes identify which flow minted a reference.
const (
	Deposit    = "DEP"
	Withdrawal = "WDR"
	Transfer   = "TRF"
	Request    = "REQ"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a unique, time-ordered reference such as DEP-01J9Z3....
// References are minted before any external call so they can serve as the
// processor's de-duplication key.
func New(prefix string) string {
	mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	mu.Unlock()
	return prefix + "-" + id.String()
}

// HasPrefix reports whether ref was minted for the given flow.
func HasPrefix(ref, prefix string) bool {
	return strings.HasPrefix(ref, prefix+"-")
}
