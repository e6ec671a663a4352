package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Categories is the closed vocabulary for receipt classification. The
// heuristic fallback additionally uses "Advertising".
var Categories = []string{"Materials", "Equipment", "Fuel", "Office Supplies", "Advertising", "Other"}

// DefaultExtraction is the skeleton returned alongside any extraction error
// so the client always has a valid, editable starting point.
func DefaultExtraction() *Extraction {
	return &Extraction{
		Vendor:      "Unknown Vendor",
		Date:        time.Now().Format("2006-01-02"),
		TotalAmount: "0.00",
		Items:       []LineItem{},
		Category:    "Other",
	}
}

// wireReceipt tolerates providers that return amounts as JSON numbers
// despite the prompt asking for strings.
type wireReceipt struct {
	Vendor      string `json:"vendor"`
	Date        string `json:"date"`
	TotalAmount any    `json:"totalAmount"`
	Items       []struct {
		Name  string `json:"name"`
		Price any    `json:"price"`
	} `json:"items"`
	Category string `json:"category"`
}

// coerceMoney renders a JSON string or number field as a decimal string.
func coerceMoney(v any) string {
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		s = strings.TrimPrefix(s, "$")
		return s
	case float64:
		return fmt.Sprintf("%.2f", val)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}

// normalizeCategory clamps a model-supplied category to the vocabulary,
// defaulting to Other.
func normalizeCategory(category string) string {
	category = strings.TrimSpace(category)
	for _, known := range Categories {
		if strings.EqualFold(category, known) {
			return known
		}
	}
	return "Other"
}

// normalizeDate coerces common date formats to ISO 8601, defaulting to
// today when the value is absent or unparseable.
func normalizeDate(date string) string {
	date = strings.TrimSpace(date)
	if date == "" {
		return time.Now().Format("2006-01-02")
	}

	if parsed, err := time.Parse("2006-01-02", date); err == nil {
		return parsed.Format("2006-01-02")
	}

	formats := []string{
		"2006/01/02",
		"01/02/2006",
		"1/2/2006",
		"02-01-2006",
	}
	for _, format := range formats {
		if parsed, err := time.Parse(format, date); err == nil {
			return parsed.Format("2006-01-02")
		}
	}

	return time.Now().Format("2006-01-02")
}

// stripCodeFence removes optional markdown fencing and isolates the
// outermost JSON object in the response text.
func stripCodeFence(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return "", fmt.Errorf("invalid JSON object in response")
	}

	return text[startIdx : endIdx+1], nil
}

// parseExtraction parses a provider's text reply into an Extraction,
// normalizing fields and filling gaps with skeleton defaults.
func parseExtraction(text string) (*Extraction, error) {
	jsonText, err := stripCodeFence(text)
	if err != nil {
		return nil, err
	}

	var wire wireReceipt
	if err := json.Unmarshal([]byte(jsonText), &wire); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	extraction := &Extraction{
		Vendor:      strings.TrimSpace(wire.Vendor),
		Date:        normalizeDate(wire.Date),
		TotalAmount: coerceMoney(wire.TotalAmount),
		Items:       make([]LineItem, 0, len(wire.Items)),
		Category:    normalizeCategory(wire.Category),
	}

	if extraction.Vendor == "" {
		extraction.Vendor = "Unknown Vendor"
	}
	if extraction.TotalAmount == "" {
		extraction.TotalAmount = "0.00"
	}

	for _, item := range wire.Items {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			continue
		}
		extraction.Items = append(extraction.Items, LineItem{
			Name:  name,
			Price: coerceMoney(item.Price),
		})
	}

	return extraction, nil
}
