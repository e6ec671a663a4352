package receipt

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bizznex/bizznex/internal/auth"
	"github.com/bizznex/bizznex/internal/billing"
	"github.com/bizznex/bizznex/internal/metering"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeMessage writes the standard {success:false, message} error body.
func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"message": message,
	})
}

// writeQuotaRefusal writes the 403 body the client's upgrade banner keys on.
func writeQuotaRefusal(w http.ResponseWriter, usage metering.Snapshot) {
	usage.Remaining = 0
	writeJSON(w, http.StatusForbidden, map[string]any{
		"success":       false,
		"canUseFeature": false,
		"data":          usage,
		"message":       "You have reached your monthly receipt scan limit. Upgrade your plan to continue scanning.",
	})
}

func identityFor(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "missing auth context")
	}
	return identity, ok
}

// handleCheckUsage returns the caller's quota state without consuming any.
func (s *Server) handleCheckUsage(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFor(w, r)
	if !ok {
		return
	}

	usage, err := s.service.CheckUsage(identity.UserID)
	if err != nil {
		slog.Error("Error checking usage", "user", identity.UserID, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    usage,
	})
}

// handleIncrementUsage consumes one scan from the caller's quota.
func (s *Server) handleIncrementUsage(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFor(w, r)
	if !ok {
		return
	}

	usage, err := s.service.ConsumeUsage(identity.UserID)
	if err != nil {
		var quotaErr *QuotaError
		if errors.As(err, &quotaErr) {
			writeQuotaRefusal(w, quotaErr.Usage)
			return
		}
		slog.Error("Error incrementing usage", "user", identity.UserID, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    usage,
	})
}

type scanErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type scanResponse struct {
	Success bool               `json:"success"`
	Data    Draft              `json:"data"`
	Source  ScanSource         `json:"source"`
	Preview string             `json:"preview,omitempty"`
	Usage   *metering.Snapshot `json:"usage,omitempty"`
	Error   *scanErrorBody     `json:"error,omitempty"`
}

// handleScanReceipt runs the capture intake and the scan strategy chain.
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFor(w, r)
	if !ok {
		return
	}

	file, err := ParseCapture(r)
	if err != nil {
		if errors.Is(err, ErrNoFile) {
			// Nothing captured is a no-op, not an error.
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.service.ScanReceipt(r.Context(), identity.UserID, file)
	if err != nil {
		var quotaErr *QuotaError
		if errors.As(err, &quotaErr) {
			writeQuotaRefusal(w, quotaErr.Usage)
			return
		}
		slog.Error("Error scanning receipt", "filename", file.Filename, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	resp := scanResponse{
		Success: result.ScanErr == nil && result.ConvertErr == nil,
		Data:    result.Draft,
		Source:  result.Source,
		Usage:   result.Usage,
	}
	if len(result.Preview) > 0 {
		resp.Preview = fmt.Sprintf("data:%s;base64,%s", result.PreviewType, base64.StdEncoding.EncodeToString(result.Preview))
	}
	if result.ScanErr != nil {
		resp.Error = &scanErrorBody{
			Kind:    string(result.ScanErr.Kind),
			Message: result.ScanErr.UserMessage(),
		}
	} else if result.ConvertErr != nil {
		resp.Error = &scanErrorBody{
			Kind:    string(result.ConvertErr.Kind),
			Message: result.ConvertErr.UserMessage(),
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleSaveReceipt persists a confirmed draft. The body is either a JSON
// draft or a multipart form with a "receipt" JSON field and an optional
// source "file".
func (s *Server) handleSaveReceipt(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFor(w, r)
	if !ok {
		return
	}

	var (
		draft Draft
		file  *CapturedFile
	)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		captured, err := ParseCapture(r)
		switch {
		case err == nil:
			file = &captured
		case errors.Is(err, ErrNoFile):
			// Draft-only save; no source file attached.
		default:
			writeMessage(w, http.StatusBadRequest, err.Error())
			return
		}

		draft, err = draftFromForm(r)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid receipt body")
			return
		}
	}

	record, err := s.service.SaveReceipt(identity.UserID, draft, file)
	if err != nil {
		slog.Error("Error saving receipt", "user", identity.UserID, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Failed to save receipt. Your draft was kept; please try again.")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"data":    record,
	})
}

func draftFromForm(r *http.Request) (Draft, error) {
	var draft Draft
	raw := r.FormValue("receipt")
	if raw == "" {
		return draft, fmt.Errorf("missing receipt field")
	}
	if err := json.Unmarshal([]byte(raw), &draft); err != nil {
		return draft, fmt.Errorf("invalid receipt field: %w", err)
	}
	return draft, nil
}

// handleListReceipts returns all of the caller's receipts.
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFor(w, r)
	if !ok {
		return
	}

	records, err := s.service.ListReceipts(identity.UserID)
	if err != nil {
		slog.Error("Error listing receipts", "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    records,
	})
}

// handleGetReceipt returns a single receipt.
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFor(w, r)
	if !ok {
		return
	}

	record, err := s.service.GetReceipt(identity.UserID, r.PathValue("id"))
	if err != nil {
		writeMessage(w, http.StatusNotFound, "Receipt not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    record,
	})
}

// handleGetReceiptFile returns the stored source file for a receipt.
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFor(w, r)
	if !ok {
		return
	}

	data, contentType, err := s.service.GetReceiptFile(identity.UserID, r.PathValue("id"))
	if err != nil {
		writeMessage(w, http.StatusNotFound, "File not found")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteReceipt deletes a receipt.
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFor(w, r)
	if !ok {
		return
	}

	if err := s.service.DeleteReceipt(identity.UserID, r.PathValue("id")); err != nil {
		writeMessage(w, http.StatusNotFound, "Receipt not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleCreateCheckout starts a plan-upgrade checkout session.
func (s *Server) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFor(w, r)
	if !ok {
		return
	}
	if s.checkout == nil {
		writeMessage(w, http.StatusServiceUnavailable, "billing not configured")
		return
	}

	var req struct {
		Plan string `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	url, err := s.checkout.CreateCheckoutSession(identity.UserID, identity.Email, billing.Plan(req.Plan))
	if err != nil {
		slog.Error("Error creating checkout session", "user", identity.UserID, "error", err)
		writeMessage(w, http.StatusInternalServerError, "failed to create checkout session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"url":     url,
	})
}

// handleBillingWebhook applies payment-provider events to user plans.
func (s *Server) handleBillingWebhook(w http.ResponseWriter, r *http.Request) {
	if s.webhooks == nil || s.plans == nil {
		writeMessage(w, http.StatusServiceUnavailable, "billing not configured")
		return
	}

	const maxBodyBytes = int64(65536)
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid payload")
		return
	}

	eventType, err := s.webhooks.HandleWebhookEvent(payload, r.Header.Get("Stripe-Signature"), s.plans)
	if err != nil {
		slog.Error("Error handling billing webhook", "event", eventType, "error", err)
		writeMessage(w, http.StatusBadRequest, "webhook verification failed")
		return
	}

	slog.Info("Billing webhook handled", "event", eventType)
	w.WriteHeader(http.StatusOK)
}
