package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/genstudio/internal/models"
	"github.com/digkill/genstudio/internal/service"
)

const (
	adminRecentTransactions = 20
	adminRecentGenerations  = 20
	defaultTopUsers         = 10
)

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "userID")
	account, err := s.Accounts.Get(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	txs, err := s.Ledger.GetHistory(ctx, id, adminRecentTransactions)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	generations, err := s.Generations.Recent(ctx, id, adminRecentGenerations)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "account": account, "transactions": txs, "generations": generations})
}

func (s *Server) handleGetGeneration(w http.ResponseWriter, r *http.Request) {
	g, err := s.Generations.Get(r.Context(), chi.URLParam(r, "generationID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "generation": g})
}

type grantRequest struct {
	Amount      int64         `json:"amount"`
	Description string        `json:"description"`
	Type        models.TxType `json:"type"`
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Type == "" {
		req.Type = models.TxGrant
	}
	if strings.TrimSpace(req.Description) == "" {
		req.Description = "Admin grant"
	}
	entry, err := s.Ledger.Credit(r.Context(), service.CreditInput{
		UserID:      chi.URLParam(r, "userID"),
		Amount:      req.Amount,
		Description: req.Description,
		Type:        req.Type,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "transactionId": entry.TransactionID, "balanceAfter": entry.BalanceAfter})
}

type refundRequest struct {
	TransactionID string `json:"transactionId"`
	Reason        string `json:"reason"`
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.TransactionID) == "" {
		s.writeError(w, r, models.NewValidationError("transactionId", "must not be empty"))
		return
	}
	entry, err := s.Ledger.Refund(r.Context(), chi.URLParam(r, "userID"), req.TransactionID, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "transactionId": entry.TransactionID, "balanceAfter": entry.BalanceAfter})
}

type planRequest struct {
	Plan models.PlanTier `json:"plan"`
}

func (s *Server) handleSetPlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "userID")
	if err := s.Accounts.SetPlan(r.Context(), id, req.Plan); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "userId": id, "planTier": req.Plan})
}

func (s *Server) handleAdminAnalytics(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", defaultHistoryDays)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	top, err := queryInt(r, "top", defaultTopUsers)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	report, err := s.Analytics.AdminReport(r.Context(), days, top)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

type broadcastRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if s.Bot == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorBody{Code: "BOT_DISABLED", Error: "telegram bot is not configured"})
		return
	}
	var req broadcastRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, r, models.NewValidationError("message", "must not be empty"))
		return
	}

	chats, err := s.Accounts.TelegramChatIDs(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sent := 0
	for _, id := range chats {
		if _, err := s.Bot.Send(tgbotapi.NewMessage(id, req.Message)); err != nil {
			s.log.Error("send broadcast", "chat_id", id, "err", err)
			continue
		}
		sent++
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sent": sent, "total": len(chats)})
}

func (s *Server) handleListPackages(w http.ResponseWriter, r *http.Request) {
	packages, err := s.Packages.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, packages)
}

func (s *Server) handleCreatePackage(w http.ResponseWriter, r *http.Request) {
	var req service.CreatePackageInput
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	pkg, err := s.Packages.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, pkg)
}

func (s *Server) handleUpdatePackage(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req service.UpdatePackageInput
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	pkg, err := s.Packages.Update(r.Context(), id, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pkg)
}

func (s *Server) handleDeletePackage(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Packages.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPromos(w http.ResponseWriter, r *http.Request) {
	promos, err := s.Promos.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, promos)
}

func (s *Server) handleCreatePromo(w http.ResponseWriter, r *http.Request) {
	var req service.CreatePromoInput
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	promo, err := s.Promos.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, promo)
}

func (s *Server) handleUpdatePromo(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req service.UpdatePromoInput
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	promo, err := s.Promos.Update(r.Context(), id, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, promo)
}

func (s *Server) handleDeletePromo(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Promos.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleYooKassaWebhook is the public endpoint for YooKassa payment status updates.
func (s *Server) handleYooKassaWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, r, models.NewValidationError("body", "unreadable"))
		return
	}
	if err := s.Payments.HandleYooKassaWebhook(r.Context(), body); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
