package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bizznex/bizznex/internal/heuristic"
	"github.com/bizznex/bizznex/internal/metering"
	"github.com/bizznex/bizznex/internal/scanning"
)

// IDGenerator generates unique IDs for receipts.
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time.
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// UsageGate is the metering surface the scan flow needs. *metering.Meter
// satisfies it.
type UsageGate interface {
	Check(userID string) (metering.Snapshot, error)
	Increment(userID string) (metering.Snapshot, error)
}

// QuotaError aborts a scan when the monthly quota is exhausted. It carries
// the snapshot so handlers can include the usage state in the refusal body.
type QuotaError struct {
	Usage metering.Snapshot
}

func (e *QuotaError) Error() string {
	return "monthly scan limit reached"
}

// ScanSource names the strategy that produced a draft.
type ScanSource string

const (
	SourceExtraction ScanSource = "extraction"
	SourceHeuristic  ScanSource = "heuristic"
	SourceManual     ScanSource = "manual"
)

// ScanResult is the outcome of one capture-to-draft sequence. Draft is
// always present and editable, even when ScanErr or ConvertErr is set.
type ScanResult struct {
	Draft       Draft
	Source      ScanSource
	Preview     []byte
	PreviewType string
	Usage       *metering.Snapshot
	ScanErr     *scanning.ScanError
	ConvertErr  *scanning.ConvertError
}

// Service orchestrates the scan strategy chain and receipt persistence.
type Service struct {
	db          DB
	scanner     scanning.Scanner
	storage     Storage
	gate        UsageGate
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a Service with default ID generator and clock.
func NewService(db DB, scanner scanning.Scanner, storage Storage, gate UsageGate) *Service {
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		gate:        gate,
		idGenerator: defaultIDGenerator{},
		timeSource:  defaultTimeSource{},
	}
}

// NewServiceWithDeps creates a Service with injected dependencies for tests.
func NewServiceWithDeps(db DB, scanner scanning.Scanner, storage Storage, gate UsageGate, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		gate:        gate,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// CheckUsage returns the caller's quota state without consuming any.
func (s *Service) CheckUsage(userID string) (metering.Snapshot, error) {
	return s.gate.Check(userID)
}

// ConsumeUsage consumes one scan from the caller's quota, refusing with a
// QuotaError at the limit.
func (s *Service) ConsumeUsage(userID string) (metering.Snapshot, error) {
	snapshot, err := s.gate.Increment(userID)
	if errors.Is(err, metering.ErrLimitReached) {
		return snapshot, &QuotaError{Usage: snapshot}
	}
	return snapshot, err
}

// ScanReceipt runs the ordered strategy chain over a captured file:
// vendor heuristic, then metered AI extraction, then the manual-entry
// placeholder. The first strategy to handle the file wins; only quota
// exhaustion and infrastructure failures abort the chain.
func (s *Service) ScanReceipt(ctx context.Context, userID string, file CapturedFile) (*ScanResult, error) {
	// Advertising-platform invoices skip rasterization and AI entirely,
	// so they do not consume quota.
	if result, handled := heuristic.Process(file.Filename, file.Data, file.IsPDF()); handled {
		slog.Info("Receipt handled by vendor heuristic",
			"filename", file.Filename,
			"vendor", result.Vendor,
			"amount", result.TotalAmount,
		)
		return &ScanResult{
			Draft: Draft{
				Vendor:      result.Vendor,
				Date:        result.Date,
				TotalAmount: result.TotalAmount,
				Items:       []scanning.LineItem{},
				Category:    result.Category,
				Notes:       result.Notes,
			},
			Source:      SourceHeuristic,
			Preview:     result.Preview,
			PreviewType: "image/png",
		}, nil
	}

	check, err := s.gate.Check(userID)
	if err != nil {
		return nil, fmt.Errorf("checking usage: %w", err)
	}
	if !check.CanUseFeature {
		return nil, &QuotaError{Usage: check}
	}

	imageData := file.Data
	imageType := file.ContentType
	preview := file.Data
	previewType := file.ContentType

	if file.IsPDF() {
		raster, rasterErr := scanning.RasterizeFirstPage(file.Data)
		if rasterErr != nil {
			var convertErr *scanning.ConvertError
			if !errors.As(rasterErr, &convertErr) {
				return nil, fmt.Errorf("rasterizing PDF: %w", rasterErr)
			}
			slog.Warn("PDF rasterization failed, falling back to manual entry",
				"filename", file.Filename,
				"kind", convertErr.Kind,
				"error", convertErr,
			)
			result := s.manualPlaceholder(file)
			result.ConvertErr = convertErr
			return result, nil
		}
		imageData = raster
		imageType = "image/png"
		preview = raster
		previewType = "image/png"
	}

	// Increment immediately before the provider call, not after success:
	// a failed extraction still counts against quota.
	usage, err := s.gate.Increment(userID)
	if err != nil {
		if errors.Is(err, metering.ErrLimitReached) {
			return nil, &QuotaError{Usage: usage}
		}
		return nil, fmt.Errorf("incrementing usage: %w", err)
	}

	extraction, scanErr := s.scanner.ScanReceipt(ctx, imageData, imageType)
	if scanErr != nil {
		slog.Error("Receipt extraction failed",
			"filename", file.Filename,
			"content_type", file.ContentType,
			"file_size", len(file.Data),
			"error", scanErr,
		)
		result := &ScanResult{
			Draft:       draftFromExtraction(scanning.DefaultExtraction()),
			Source:      SourceExtraction,
			Preview:     preview,
			PreviewType: previewType,
			Usage:       &usage,
		}
		var typed *scanning.ScanError
		if errors.As(scanErr, &typed) {
			result.ScanErr = typed
		} else {
			result.ScanErr = &scanning.ScanError{Kind: scanning.KindProvider, Message: scanErr.Error()}
		}
		return result, nil
	}

	return &ScanResult{
		Draft:       draftFromExtraction(extraction),
		Source:      SourceExtraction,
		Preview:     preview,
		PreviewType: previewType,
		Usage:       &usage,
	}, nil
}

// manualPlaceholder is the last strategy in the chain: it always handles
// the file, surfacing it as an unprocessed placeholder the user fills in
// by hand.
func (s *Service) manualPlaceholder(file CapturedFile) *ScanResult {
	return &ScanResult{
		Draft: Draft{
			Vendor:      "",
			Date:        s.timeSource.Now().Format("2006-01-02"),
			TotalAmount: "",
			Items:       []scanning.LineItem{},
			Category:    "",
			Notes:       fmt.Sprintf("Could not process %s. Enter the receipt details manually.", file.Filename),
		},
		Source:      SourceManual,
		Preview:     heuristic.RenderPlaceholder(file.Filename, ""),
		PreviewType: "image/png",
	}
}

func draftFromExtraction(e *scanning.Extraction) Draft {
	items := e.Items
	if items == nil {
		items = []scanning.LineItem{}
	}
	return Draft{
		Vendor:      e.Vendor,
		Date:        e.Date,
		TotalAmount: e.TotalAmount,
		Items:       items,
		Category:    e.Category,
		Notes:       "",
	}
}

// sanitizeFilename cleans up phone-generated filenames before storage.
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	reg := regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	base = reg.ReplaceAllString(base, "")
	reg = regexp.MustCompile(`\s+`)
	base = reg.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}
	if base == "" {
		base = "receipt"
	}

	return base + ext
}

// SaveReceipt persists a confirmed draft, storing the source file alongside
// when provided. On failure nothing is cleared; the caller retries with the
// draft intact.
func (s *Service) SaveReceipt(userID string, draft Draft, file *CapturedFile) (*Receipt, error) {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	record := &Receipt{
		ID:          id,
		UserID:      userID,
		Vendor:      draft.Vendor,
		Date:        draft.Date,
		TotalAmount: draft.TotalAmount,
		Items:       draft.Items,
		Category:    draft.Category,
		Notes:       draft.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if record.Items == nil {
		record.Items = []scanning.LineItem{}
	}

	var savedPath string
	if file != nil && len(file.Data) > 0 {
		cleanFilename := sanitizeFilename(file.Filename)
		path, err := s.storage.Save(fmt.Sprintf("%s_%s", id, cleanFilename), file.Data)
		if err != nil {
			return nil, fmt.Errorf("saving file: %w", err)
		}
		savedPath = path
		record.Filename = savedPath
		record.ContentType = file.ContentType
	}

	if err := s.db.SaveReceipt(record); err != nil {
		if savedPath != "" {
			s.storage.Delete(savedPath)
		}
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}

	return record, nil
}

// GetReceipt retrieves a receipt owned by the user.
func (s *Service) GetReceipt(userID, id string) (*Receipt, error) {
	record, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	if record.UserID != userID {
		return nil, fmt.Errorf("receipt not found: %s", id)
	}
	return record, nil
}

// ListReceipts returns all receipts for the user.
func (s *Service) ListReceipts(userID string) ([]*Receipt, error) {
	records, err := s.db.ListReceipts(userID)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return records, nil
}

// DeleteReceipt removes a receipt and its stored file.
func (s *Service) DeleteReceipt(userID, id string) error {
	record, err := s.GetReceipt(userID, id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if record.Filename != "" {
		if err := s.storage.Delete(record.Filename); err != nil {
			slog.Warn("Failed to delete file", "filename", record.Filename, "error", err)
		}
	}

	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	return nil
}

// GetReceiptFile retrieves the stored source file for a receipt.
func (s *Service) GetReceiptFile(userID, id string) ([]byte, string, error) {
	record, err := s.GetReceipt(userID, id)
	if err != nil {
		return nil, "", err
	}
	if record.Filename == "" {
		return nil, "", fmt.Errorf("receipt has no stored file: %s", id)
	}

	data, err := s.storage.Get(record.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}

	return data, record.ContentType, nil
}
