package receipt

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bizznex/bizznex/internal/scanning"
)

// Draft is the in-progress, user-editable receipt record. Monetary amounts
// and dates are opaque display-formatted strings so a saved receipt round-
// trips byte-identically; parse-on-demand accessors cover the cases that
// need real numbers.
type Draft struct {
	Vendor      string              `json:"vendor"`
	Date        string              `json:"date"` // ISO 8601 YYYY-MM-DD
	TotalAmount string              `json:"totalAmount"`
	Items       []scanning.LineItem `json:"items"`
	Category    string              `json:"category"`
	Notes       string              `json:"notes"`
}

// AmountCents parses the display amount into integer cents.
func (d Draft) AmountCents() (int, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(d.TotalAmount), "$"))
	raw = strings.ReplaceAll(raw, ",", "")
	if raw == "" {
		return 0, fmt.Errorf("empty amount")
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing amount %q: %w", d.TotalAmount, err)
	}
	return int(value*100 + 0.5), nil
}

// Day parses the display date.
func (d Draft) Day() (time.Time, error) {
	parsed, err := time.Parse("2006-01-02", d.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", d.Date, err)
	}
	return parsed, nil
}

// Receipt is a persisted, confirmed receipt. The draft fields are stored
// verbatim.
type Receipt struct {
	ID          string              `json:"id"`
	UserID      string              `json:"user_id"`
	Vendor      string              `json:"vendor"`
	Date        string              `json:"date"`
	TotalAmount string              `json:"totalAmount"`
	Items       []scanning.LineItem `json:"items"`
	Category    string              `json:"category"`
	Notes       string              `json:"notes"`
	Filename    string              `json:"filename,omitempty"`
	ContentType string              `json:"content_type,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Draft returns the editable view of a persisted receipt.
func (r *Receipt) Draft() Draft {
	return Draft{
		Vendor:      r.Vendor,
		Date:        r.Date,
		TotalAmount: r.TotalAmount,
		Items:       r.Items,
		Category:    r.Category,
		Notes:       r.Notes,
	}
}
