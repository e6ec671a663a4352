package receipt

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
)

// maxCaptureBytes caps uploads at 50MB to accommodate high-resolution
// phone photos.
const maxCaptureBytes = int64(50 << 20)

// ErrNoFile means the client submitted nothing; callers treat it as a
// no-op rather than an error.
var ErrNoFile = errors.New("no file captured")

// CapturedFile is a still image or document obtained from the client's
// camera snapshot or file picker, normalized into memory.
type CapturedFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// IsPDF reports whether the capture is a PDF document.
func (f CapturedFile) IsPDF() bool {
	return strings.EqualFold(f.ContentType, "application/pdf")
}

// contentTypeForExt fills in a missing MIME type from the file extension.
func contentTypeForExt(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

func supportedCaptureType(contentType string) bool {
	return strings.HasPrefix(contentType, "image/") || contentType == "application/pdf"
}

// ParseCapture normalizes either capture path into a CapturedFile: a
// multipart file upload, or a JSON body carrying a base64 data URI from a
// camera snapshot.
func ParseCapture(r *http.Request) (CapturedFile, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		return parseMultipartCapture(r)
	}
	return parseDataURICapture(r)
}

func parseMultipartCapture(r *http.Request) (CapturedFile, error) {
	if err := r.ParseMultipartForm(maxCaptureBytes); err != nil {
		if err.Error() == "http: request body too large" {
			return CapturedFile{}, fmt.Errorf("file is too large, maximum size is 50MB")
		}
		return CapturedFile{}, fmt.Errorf("parsing form: %w", err)
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		if err.Error() == "http: no such file" {
			return CapturedFile{}, ErrNoFile
		}
		return CapturedFile{}, fmt.Errorf("reading form file: %w", err)
	}
	defer f.Close()

	if header.Size > maxCaptureBytes {
		return CapturedFile{}, fmt.Errorf("file is too large, maximum size is 50MB")
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return CapturedFile{}, fmt.Errorf("reading file data: %w", err)
	}
	if len(data) == 0 {
		return CapturedFile{}, ErrNoFile
	}

	mimeType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = contentTypeForExt(header.Filename)
	}
	if !supportedCaptureType(mimeType) {
		return CapturedFile{}, fmt.Errorf("unsupported file type: %s", mimeType)
	}

	return CapturedFile{
		Filename:    header.Filename,
		ContentType: mimeType,
		Data:        data,
	}, nil
}

// captureRequest is the camera-snapshot body: the image field holds a
// data:<mime>;base64,<payload> URI produced from a canvas frame.
type captureRequest struct {
	Image    string `json:"image"`
	Filename string `json:"filename"`
}

func parseDataURICapture(r *http.Request) (CapturedFile, error) {
	var req captureRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxCaptureBytes)).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return CapturedFile{}, ErrNoFile
		}
		return CapturedFile{}, fmt.Errorf("decoding capture body: %w", err)
	}
	if req.Image == "" {
		return CapturedFile{}, ErrNoFile
	}

	rest, ok := strings.CutPrefix(req.Image, "data:")
	if !ok {
		return CapturedFile{}, fmt.Errorf("image is not a data URI")
	}
	mimeType, payload, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return CapturedFile{}, fmt.Errorf("image data URI is not base64 encoded")
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if !supportedCaptureType(mimeType) {
		return CapturedFile{}, fmt.Errorf("unsupported capture type: %s", mimeType)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return CapturedFile{}, fmt.Errorf("decoding image payload: %w", err)
	}
	if len(data) == 0 {
		return CapturedFile{}, ErrNoFile
	}

	filename := req.Filename
	if filename == "" {
		filename = "camera-capture.jpg"
	}

	return CapturedFile{
		Filename:    filename,
		ContentType: mimeType,
		Data:        data,
	}, nil
}
