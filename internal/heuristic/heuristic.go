// Package heuristic populates receipt drafts for document classes too
// irregular for the image pipeline, currently advertising-platform invoices.
// It pattern-matches filenames and embedded PDF text instead of rasterizing.
package heuristic

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"
)

// maxTextPages bounds how much of the PDF is scanned for amounts and dates.
const maxTextPages = 3

// Result is a best-effort draft produced without rasterization or AI.
// Vendor, Category, and Notes are always non-empty; Date is always a valid
// ISO date.
type Result struct {
	Vendor      string
	Date        string
	TotalAmount string
	Category    string
	Notes       string
	Preview     []byte // synthesized PNG preview
}

type vendorRule struct {
	keywords []string
	label    string
}

// vendorRules maps filename keywords to vendor labels. First match wins.
var vendorRules = []vendorRule{
	{keywords: []string{"yelp"}, label: "Yelp for Business"},
	{keywords: []string{"google_ads", "google-ads", "googleads", "adwords"}, label: "Google Ads"},
	{keywords: []string{"facebook_ads", "facebook-ads", "meta_ads", "meta-ads", "fb_ads"}, label: "Meta Ads"},
}

var (
	currencyPattern = regexp.MustCompile(`\$\s?(\d{1,3}(?:,\d{3})+\.\d{2}|\d+\.\d{2})`)
	datePattern     = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)

	// Full month names come before their three-letter prefixes so the
	// longest form matches.
	filenameDatePattern = regexp.MustCompile(`(?i)(january|february|march|april|june|july|august|september|october|november|december|jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[ _\-.]*(\d{1,2})?[ _\-.]*(\d{4})`)
)

var monthNumbers = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// Matches reports whether the heuristic should handle this file at all:
// either a known advertising keyword appears in the filename, or the file
// is a PDF whose name mentions ads or invoices.
func Matches(filename string, isPDF bool) bool {
	lower := strings.ToLower(filename)
	for _, rule := range vendorRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(lower, keyword) {
				return true
			}
		}
	}
	if isPDF && (strings.Contains(lower, "ads") || strings.Contains(lower, "invoice")) {
		return true
	}
	return false
}

func vendorFor(filename string) string {
	lower := strings.ToLower(filename)
	for _, rule := range vendorRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(lower, keyword) {
				return rule.label
			}
		}
	}
	return "Advertising Vendor"
}

// extractText pulls raw text from up to the first maxTextPages pages.
// Extraction failures are not fatal; the caller proceeds with filename
// heuristics only.
func extractText(pdfData []byte) string {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		slog.Warn("Heuristic text extraction failed to open PDF", "error", err)
		return ""
	}
	defer doc.Close()

	var builder strings.Builder
	pages := doc.NumPage()
	if pages > maxTextPages {
		pages = maxTextPages
	}
	for i := 0; i < pages; i++ {
		pageText, err := doc.Text(i)
		if err != nil {
			slog.Warn("Heuristic text extraction failed on page", "page", i+1, "error", err)
			continue
		}
		builder.WriteString(pageText)
		builder.WriteString("\n")
	}

	return builder.String()
}

// maxAmount returns the largest currency match in the text, formatted with
// two decimals and no thousands separators, or "" when nothing matched.
func maxAmount(text string) string {
	matches := currencyPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return ""
	}

	best := -1.0
	for _, match := range matches {
		value, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", ""), 64)
		if err != nil {
			continue
		}
		if value > best {
			best = value
		}
	}
	if best < 0 {
		return ""
	}

	return strconv.FormatFloat(best, 'f', 2, 64)
}

// firstDate returns the first M/D/YYYY-style date in the text as ISO 8601,
// or "" when none is found or the candidate is not a real calendar date.
func firstDate(text string) string {
	for _, match := range datePattern.FindAllStringSubmatch(text, -1) {
		candidate := fmt.Sprintf("%s/%s/%s", match[1], match[2], match[3])
		if parsed, err := time.Parse("1/2/2006", candidate); err == nil {
			return parsed.Format("2006-01-02")
		}
	}
	return ""
}

// filenameDate parses a month-name date embedded in the filename, e.g.
// "yelp_ads_invoice_march_2024.pdf". A missing day defaults to the 1st.
func filenameDate(filename string) string {
	match := filenameDatePattern.FindStringSubmatch(filename)
	if match == nil {
		return ""
	}

	month, ok := monthNumbers[strings.ToLower(match[1])[:3]]
	if !ok {
		return ""
	}

	day := 1
	if match[2] != "" {
		parsed, err := strconv.Atoi(match[2])
		if err == nil && parsed >= 1 && parsed <= 31 {
			day = parsed
		}
	}

	year, err := strconv.Atoi(match[3])
	if err != nil {
		return ""
	}

	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
}

// Process attempts to build a draft from the filename and embedded PDF
// text. It returns false when the file does not match the heuristic's
// triggers; callers fall through to other strategies.
func Process(filename string, data []byte, isPDF bool) (*Result, bool) {
	if !Matches(filename, isPDF) {
		return nil, false
	}

	var text string
	if isPDF {
		text = extractText(data)
	}

	amount := maxAmount(text)

	date := firstDate(text)
	if date == "" {
		date = filenameDate(filename)
	}
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}

	vendor := vendorFor(filename)

	notes := fmt.Sprintf("Imported from %s.", filename)
	if amount != "" {
		notes = fmt.Sprintf("Imported from %s. Detected total $%s.", filename, amount)
	}

	return &Result{
		Vendor:      vendor,
		Date:        date,
		TotalAmount: amount,
		Category:    "Advertising",
		Notes:       notes,
		Preview:     RenderPlaceholder(filename, amount),
	}, true
}
