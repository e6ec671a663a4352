package scanning

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// rasterDPI is twice the 72 DPI nominal resolution, enough for downstream
// text recognition without ballooning payload size.
const rasterDPI = 144

// ConvertKind classifies PDF rasterization failures.
type ConvertKind string

const (
	KindWorkerInitFailed  ConvertKind = "worker_init_failed"
	KindPasswordProtected ConvertKind = "password_protected"
	KindCorruptedDocument ConvertKind = "corrupted_document"
	KindConversionFailed  ConvertKind = "conversion_failed"
)

// ConvertError is a typed rasterization failure. Callers fall through to
// the heuristic and placeholder strategies on any kind.
type ConvertError struct {
	Kind  ConvertKind
	cause error
}

func (e *ConvertError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.cause)
}

func (e *ConvertError) Unwrap() error {
	return e.cause
}

// UserMessage maps each failure kind to a distinct user-facing message.
func (e *ConvertError) UserMessage() string {
	switch e.Kind {
	case KindWorkerInitFailed:
		return "The PDF renderer failed to start. Please try again."
	case KindPasswordProtected:
		return "This PDF is password protected. Remove the password and try again, or enter the receipt manually."
	case KindCorruptedDocument:
		return "This PDF appears to be damaged and could not be read."
	default:
		return "This PDF could not be converted to an image."
	}
}

func classifyFitzError(err error) *ConvertError {
	switch {
	case errors.Is(err, fitz.ErrCreateContext):
		return &ConvertError{Kind: KindWorkerInitFailed, cause: err}
	case errors.Is(err, fitz.ErrNeedsPassword):
		return &ConvertError{Kind: KindPasswordProtected, cause: err}
	case errors.Is(err, fitz.ErrOpenMemory), errors.Is(err, fitz.ErrOpenDocument):
		return &ConvertError{Kind: KindCorruptedDocument, cause: err}
	default:
		return &ConvertError{Kind: KindConversionFailed, cause: err}
	}
}

// RasterizeFirstPage renders page 1 of a PDF to a PNG at 2x nominal
// resolution. Failures are *ConvertError values.
func RasterizeFirstPage(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, classifyFitzError(err)
	}
	defer doc.Close()

	img, err := doc.ImageDPI(0, rasterDPI)
	if err != nil {
		return nil, classifyFitzError(err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, &ConvertError{Kind: KindConversionFailed, cause: err}
	}

	return buf.Bytes(), nil
}

// imageToPNG converts any image format to PNG.
func imageToPNG(imageData []byte, mimeType string) ([]byte, error) {
	var img image.Image
	var err error

	// HEIC/HEIF photos (common on iPhones) are not handled by the standard
	// image package.
	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			if strings.Contains(err.Error(), "unknown format") || strings.Contains(err.Error(), "unsupported") {
				return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", err)
			}
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}

	return buf.Bytes(), nil
}

// isHEICFormat checks for the ftyp box brands HEIC files start with.
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	if string(data[4:8]) == "ftyp" {
		brand := string(data[8:12])
		if brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1" {
			return true
		}
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return mimeType == "image/heic" || mimeType == "image/heif" ||
		strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// prepareImageData normalizes the MIME type and converts the payload to
// PNG when needed. PDFs go through RasterizeFirstPage; everything else
// through the image decoders. The returned data is always PNG.
func prepareImageData(imageData []byte, contentType string) ([]byte, string, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	if mimeType == "application/pdf" {
		pngData, err := RasterizeFirstPage(imageData)
		if err != nil {
			return nil, "", err
		}
		return pngData, "image/png", nil
	}

	if mimeType != "image/png" || isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		pngData, err := imageToPNG(imageData, mimeType)
		if err != nil {
			return nil, "", fmt.Errorf("converting image to PNG: %w", err)
		}
		return pngData, "image/png", nil
	}

	return imageData, "image/png", nil
}
