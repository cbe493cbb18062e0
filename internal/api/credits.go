package api

import (
	"net/http"
	"time"

	"github.com/digkill/genstudio/internal/models"
	"github.com/digkill/genstudio/internal/service"
)

const (
	defaultHistoryDays  = 30
	minHistoryDays      = 7
	maxHistoryDays      = 365
	defaultHistoryLimit = 50
	minHistoryLimit     = 10
	maxHistoryLimit     = 200
)

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	account, err := s.Accounts.Get(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":             true,
		"creditsBalance": account.CreditsBalance,
		"planTier":       account.PlanTier,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", defaultHistoryDays)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", defaultHistoryLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	days = clampInt(days, minHistoryDays, maxHistoryDays)
	limit = clampInt(limit, minHistoryLimit, maxHistoryLimit)
	since := time.Now().UTC().AddDate(0, 0, -days)

	ctx := r.Context()
	txs, err := s.Ledger.GetHistorySince(ctx, userID(r), since, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	events, err := s.Usage.History(ctx, userID(r), since, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"days":         days,
		"limit":        limit,
		"transactions": txs,
		"usageEvents":  events,
	})
}

type recordUsageRequest struct {
	EventType string            `json:"eventType"`
	Cost      float64           `json:"cost"`
	Tokens    int64             `json:"tokens"`
	RequestID string            `json:"requestId"`
	Metadata  map[string]string `json:"metadata"`
}

func (s *Server) handleRecordUsage(w http.ResponseWriter, r *http.Request) {
	var req recordUsageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.Usage.RecordUsage(r.Context(), service.RecordUsageInput{
		UserID:    userID(r),
		EventType: req.EventType,
		Cost:      req.Cost,
		Tokens:    req.Tokens,
		RequestID: req.RequestID,
		Metadata:  req.Metadata,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":             true,
		"eventId":        res.EventID,
		"transactionId":  res.TransactionID,
		"creditsCharged": res.Credits,
		"balanceAfter":   res.BalanceAfter,
		"duplicate":      res.Duplicate,
	})
}

func (s *Server) handleUserAnalytics(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", defaultHistoryDays)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	report, err := s.Analytics.UserReport(r.Context(), userID(r), days)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListActivePackages(w http.ResponseWriter, r *http.Request) {
	all, err := s.Packages.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	active := make([]models.CreditPackage, 0, len(all))
	for _, p := range all {
		if p.IsActive {
			active = append(active, p)
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "packages": active})
}

type checkoutRequest struct {
	PackageID int64 `json:"packageId"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if !s.Payments.LinksEnabled() {
		s.writeJSON(w, http.StatusServiceUnavailable, errorBody{Code: "CHECKOUT_DISABLED", Error: "online checkout is not configured"})
		return
	}
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	link, err := s.Payments.CreatePaymentLink(r.Context(), userID(r), req.PackageID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "confirmationUrl": link})
}

type redeemRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	entry, err := s.Promos.Redeem(r.Context(), userID(r), req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"transactionId": entry.TransactionID,
		"balanceAfter":  entry.BalanceAfter,
	})
}
