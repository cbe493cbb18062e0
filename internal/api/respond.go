package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/digkill/genstudio/internal/models"
	"github.com/digkill/genstudio/internal/repository"
	"github.com/digkill/genstudio/internal/service"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	OK              bool   `json:"ok"`
	Code            string `json:"code"`
	Error           string `json:"error"`
	Field           string `json:"field,omitempty"`
	Needed          *int64 `json:"needed,omitempty"`
	Have            *int64 `json:"have,omitempty"`
	PurchaseHintURL string `json:"purchaseHintUrl,omitempty"`
	Refunded        *bool  `json:"refunded,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a service error onto a status code and body. Internal details never
// reach the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		guardErr     *service.GuardError
		insufficient *models.InsufficientCreditsError
		validation   *models.ValidationError
	)

	switch {
	case errors.As(err, &guardErr) && guardErr.Code == service.GuardInsufficientCredits:
		s.writeJSON(w, http.StatusPaymentRequired, errorBody{
			Code:            string(guardErr.Code),
			Error:           "insufficient credits",
			Needed:          &guardErr.Needed,
			Have:            &guardErr.Have,
			PurchaseHintURL: guardErr.PurchaseHintURL,
		})
	case guardErr != nil && guardErr.Code == service.GuardUnknown:
		s.log.Error("guarded request failed", "method", r.Method, "path", r.URL.Path, "refunded", guardErr.Refunded, "err", err)
		refunded := guardErr.Refunded
		s.writeJSON(w, http.StatusInternalServerError, errorBody{Code: string(service.GuardUnknown), Error: "internal error", Refunded: &refunded})
	case errors.As(err, &insufficient):
		s.writeJSON(w, http.StatusPaymentRequired, errorBody{
			Code:            string(service.GuardInsufficientCredits),
			Error:           "insufficient credits",
			Needed:          &insufficient.Needed,
			Have:            &insufficient.Have,
			PurchaseHintURL: s.purchaseHintURL,
		})
	case errors.Is(err, models.ErrUnauthenticated):
		s.writeJSON(w, http.StatusUnauthorized, errorBody{Code: "UNAUTHENTICATED", Error: "authentication required"})
	case errors.As(err, &validation):
		s.writeJSON(w, http.StatusBadRequest, errorBody{Code: "VALIDATION_ERROR", Error: validation.Error(), Field: validation.Field})
	case errors.Is(err, repository.ErrPromoNotFound):
		s.writeJSON(w, http.StatusNotFound, errorBody{Code: "PROMO_NOT_FOUND", Error: "promo code not found"})
	case errors.Is(err, repository.ErrPromoExhausted), errors.Is(err, repository.ErrPromoAlreadyRedeemed):
		s.writeJSON(w, http.StatusConflict, errorBody{Code: "PROMO_UNAVAILABLE", Error: rootMessage(err)})
	case errors.Is(err, models.ErrAlreadyRefunded):
		s.writeJSON(w, http.StatusConflict, errorBody{Code: "ALREADY_REFUNDED", Error: "transaction already refunded"})
	case models.IsNotFound(err), errors.Is(err, service.ErrPaymentNotFound):
		s.writeJSON(w, http.StatusNotFound, errorBody{Code: "NOT_FOUND", Error: rootMessage(err)})
	case models.IsClientError(err):
		s.writeJSON(w, http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Error: rootMessage(err)})
	default:
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, errorBody{Code: string(service.GuardUnknown), Error: "internal error"})
	}
}

// rootMessage is the text of the innermost sentinel, which never carries internal detail.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return models.NewValidationError("body", "invalid JSON")
	}
	return nil
}

// queryInt reads an optional integer query parameter, returning def when it is absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, models.NewValidationError(name, fmt.Sprintf("must be an integer, got %q", raw))
	}
	return v, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func parseID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, models.NewValidationError("id", "must be a positive integer")
	}
	return id, nil
}
