package scanning

import "context"

// LineItem is one extracted receipt line.
type LineItem struct {
	Name  string `json:"name"`
	Price string `json:"price"`
}

// Extraction contains the structured fields extracted from a receipt image.
// Monetary values and dates are kept as display-formatted strings; callers
// parse them on demand.
type Extraction struct {
	Vendor      string     `json:"vendor"`
	Date        string     `json:"date"` // ISO 8601 YYYY-MM-DD
	TotalAmount string     `json:"totalAmount"`
	Items       []LineItem `json:"items"`
	Category    string     `json:"category"`
}

// Scanner defines the interface for receipt extraction providers.
type Scanner interface {
	// ScanReceipt analyzes a receipt image and extracts structured fields.
	// Failures are *ScanError values classified by ErrorKind.
	ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*Extraction, error)

	// Close releases provider resources.
	Close() error
}

// receiptScanPrompt is the shared instruction used by all providers.
const receiptScanPrompt = `You are analyzing a receipt or invoice document. Carefully read all text in the image and extract the following information:

1. **Vendor**: The merchant, store, or business name, usually the largest text at the top of the receipt.

2. **Date**: The transaction, purchase, or invoice date, converted to ISO 8601 format (YYYY-MM-DD).

3. **Total Amount**: The final total or amount due, usually at the bottom, labeled "TOTAL", "Amount Due", or similar. Express it as a numeric string with two decimal places, without a currency symbol (e.g., "42.75").

4. **Items**: The individual line items, each with its printed name and price string.

5. **Category**: Exactly one of: Materials, Equipment, Fuel, Office Supplies, Other.

Return ONLY valid JSON in this exact format:
{
  "vendor": "Store Name",
  "date": "YYYY-MM-DD",
  "totalAmount": "0.00",
  "items": [{"name": "Item name", "price": "0.00"}],
  "category": "Other"
}

Important:
- The date must be in YYYY-MM-DD format
- totalAmount and item prices must be strings
- The category must come from the list above
- If you cannot find a field, use an empty string or empty list
- Do not include any text before or after the JSON
- Do not use markdown code blocks`
