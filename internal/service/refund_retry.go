package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/digkill/genstudio/internal/metrics"
	"github.com/digkill/genstudio/internal/models"
	"github.com/digkill/genstudio/internal/repository"
)

const refundBatchSize = 100

type RetrySummary struct {
	Attempted int `json:"attempted"`
	Refunded  int `json:"refunded"`
	Failed    int `json:"failed"`
}

// RefundRetryService drains refunds the guard could not write at the time.
type RefundRetryService struct {
	queue       *repository.RefundQueueRepository
	ledger      *LedgerService
	maxAttempts int
	metrics     *metrics.Metrics
	log         *slog.Logger
}

func NewRefundRetryService(queue *repository.RefundQueueRepository, ledger *LedgerService, maxAttempts int, m *metrics.Metrics, log *slog.Logger) *RefundRetryService {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RefundRetryService{queue: queue, ledger: ledger, maxAttempts: maxAttempts, metrics: m, log: log.With("component", "refund_retry")}
}

func (s *RefundRetryService) Run(ctx context.Context) (RetrySummary, error) {
	var summary RetrySummary
	pending, err := s.queue.ListPending(ctx, refundBatchSize)
	if err != nil {
		return summary, err
	}

	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Attempted++
		log := s.log.With("refund_id", p.ID, "user_id", p.UserID, "transaction_id", p.TransactionID)

		_, err := s.ledger.Refund(ctx, p.UserID, p.TransactionID, p.Reason)
		if err == nil || errors.Is(err, models.ErrAlreadyRefunded) {
			if err := s.queue.MarkDone(ctx, p.ID); err != nil {
				return summary, err
			}
			summary.Refunded++
			log.Info("queued refund applied")
			continue
		}

		status, qerr := s.queue.RecordFailure(ctx, p.ID, err.Error(), s.maxAttempts)
		if qerr != nil {
			return summary, qerr
		}
		if status == models.RefundFailed {
			summary.Failed++
			log.Error("refund abandoned after max attempts", "attempts", p.Attempts+1, "err", err)
			continue
		}
		log.Warn("queued refund still failing", "attempts", p.Attempts+1, "err", err)
	}

	s.reportQueue(ctx)
	return summary, nil
}

func (s *RefundRetryService) reportQueue(ctx context.Context) {
	for _, status := range []models.RefundStatus{models.RefundPending, models.RefundFailed} {
		n, err := s.queue.CountByStatus(ctx, status)
		if err != nil {
			s.log.Warn("failed to count refund queue", "status", status, "err", err)
			continue
		}
		s.metrics.RefundQueue(string(status), n)
	}
}
