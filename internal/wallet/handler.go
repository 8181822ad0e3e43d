package wallet

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/ledgerpay/internal/apierror"
	"github.com/congo-pay/ledgerpay/internal/ledger"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Summary returns the caller's balance.
func (h *Handler) Summary(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	summary, err := h.service.Summary(c.UserContext(), uid)
	if err != nil {
		return apierror.From(err)
	}
	return c.Status(http.StatusOK).JSON(summary)
}

// History returns the caller's transactions. Supports type, from, to (RFC 3339
// or YYYY-MM-DD) and limit query parameters.
func (h *Handler) History(c *fiber.Ctx) error {
	q, err := parseQuery(c)
	if err != nil {
		return err
	}
	q.Limit = c.QueryInt("limit", 0)
	entries, err := h.service.History(c.UserContext(), q)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"transactions": entries})
}

// Export streams the caller's history as a CSV attachment.
func (h *Handler) Export(c *fiber.Ctx) error {
	switch format := strings.ToLower(c.Query("format", "csv")); format {
	case "csv":
	case "pdf":
		return apierror.Validation("pdf export is not supported", map[string]string{"format": "Must be one of: csv"})
	default:
		return apierror.Validation("unsupported export format", map[string]string{"format": "Must be one of: csv"})
	}
	q, err := parseQuery(c)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := h.service.ExportCSV(c.UserContext(), &buf, q); err != nil {
		return mapError(err)
	}
	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="transactions-%s.csv"`, time.Now().UTC().Format("20060102")))
	return c.Status(http.StatusOK).Send(buf.Bytes())
}

func parseQuery(c *fiber.Ctx) (Query, error) {
	uid, _ := c.Locals("user_id").(string)
	q := Query{OwnerID: uid, Type: ledger.TransactionType(strings.ToLower(c.Query("type")))}
	var err error
	if q.From, err = parseTime(c.Query("from"), false); err != nil {
		return Query{}, apierror.Validation("invalid from", map[string]string{"from": err.Error()})
	}
	if q.To, err = parseTime(c.Query("to"), true); err != nil {
		return Query{}, apierror.Validation("invalid to", map[string]string{"to": err.Error()})
	}
	return q, nil
}

// parseTime accepts RFC 3339 timestamps or plain dates. A plain date used as
// an upper bound covers the whole day.
func parseTime(v string, endOfDay bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, errors.New("expected RFC 3339 timestamp or YYYY-MM-DD")
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidType):
		return apierror.Validation(err.Error(), map[string]string{"type": "Must be one of: deposit transfer withdrawal request"})
	case errors.Is(err, ErrInvalidRange):
		return apierror.Validation(err.Error(), nil)
	}
	return apierror.From(err)
}
