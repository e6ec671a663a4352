package scanning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements the Scanner interface using Google Gemini.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a Gemini scanner. With an empty API key the scanner is
// returned unconfigured: every ScanReceipt call reports a configuration
// error without attempting a network call, so the rest of the application
// still works for manual entry.
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}
	if apiKey == "" {
		return &Gemini{}, nil
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  client.GenerativeModel(modelName),
	}, nil
}

// classifyProviderError maps a provider error onto the scan failure
// taxonomy by inspecting its message.
func classifyProviderError(err error) *ScanError {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api key") || strings.Contains(msg, "unauthenticated") ||
		strings.Contains(msg, "permission") || strings.Contains(msg, "401") || strings.Contains(msg, "403"):
		return newScanError(KindInvalidCredential, "provider rejected credentials", err)
	case strings.Contains(msg, "not found") || strings.Contains(msg, "deprecated") || strings.Contains(msg, "404"):
		return newScanError(KindModelUnavailable, "model unavailable or deprecated", err)
	default:
		return newScanError(KindProvider, err.Error(), err)
	}
}

// ScanReceipt sends the image and the fixed extraction prompt to Gemini and
// parses the reply.
func (g *Gemini) ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*Extraction, error) {
	if g.client == nil {
		return nil, newScanError(KindConfiguration, "gemini api key is not configured", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	finalImageData, _, err := prepareImageData(imageData, contentType)
	if err != nil {
		return nil, err
	}

	parts := []genai.Part{
		genai.ImageData("png", finalImageData),
		genai.Text(receiptScanPrompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, classifyProviderError(err)
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, newScanError(KindProvider, "no response from gemini", nil)
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	extraction, err := parseExtraction(responseText.String())
	if err != nil {
		return nil, newScanError(KindMalformedResponse, "response did not contain valid JSON", err)
	}

	return extraction, nil
}

// Close closes the Gemini client.
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
