package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/genstudio/internal/metrics"
	"github.com/digkill/genstudio/internal/models"
	"github.com/digkill/genstudio/internal/pricing"
	"github.com/digkill/genstudio/internal/repository"
)

type GuardErrorCode string

const (
	GuardInsufficientCredits GuardErrorCode = "INSUFFICIENT_CREDITS"
	// GuardPlanBlocked is reserved for plan-level gating and is not produced yet.
	GuardPlanBlocked GuardErrorCode = "PLAN_BLOCKED"
	GuardUnknown     GuardErrorCode = "UNKNOWN"
)

// GuardState names the step a guarded run stopped in. It is logged and exported as a metric label.
type GuardState string

const (
	StateResolving       GuardState = "resolving"
	StatePricing         GuardState = "pricing"
	StateUnlimitedBypass GuardState = "unlimited_bypass"
	StateInsufficient    GuardState = "insufficient"
	StateReserved        GuardState = "reserved"
	StateExecuting       GuardState = "executing"
	StateCommitted       GuardState = "committed"
	StateRefunding       GuardState = "refunding"
	StateRefunded        GuardState = "refunded"
	StateRefundQueued    GuardState = "refund_queued"
	StateFailed          GuardState = "failed"
)

// GuardError is every failure RunGuarded returns. Err keeps the cause so errors.Is and
// errors.As see through it to the work's own error.
type GuardError struct {
	Code            GuardErrorCode
	Needed          int64
	Have            int64
	PurchaseHintURL string
	// Refunded is true when the reservation was returned after the work failed.
	Refunded bool
	Err      error
}

func (e *GuardError) Error() string {
	switch e.Code {
	case GuardInsufficientCredits:
		return fmt.Sprintf("insufficient credits: needed %d, have %d", e.Needed, e.Have)
	default:
		if e.Err != nil {
			return e.Err.Error()
		}
		return string(e.Code)
	}
}

func (e *GuardError) Unwrap() error {
	return e.Err
}

type GuardRequest struct {
	GenerationType models.GenerationType
	Count          int
	Description    string
	// AutoRefundOnFailure defaults to true when nil.
	AutoRefundOnFailure *bool
}

// Reservation is the committed debit that paid for a guarded run.
type Reservation struct {
	TransactionID string `json:"transactionId"`
	CreditsUsed   int64  `json:"creditsUsed"`
	BalanceAfter  int64  `json:"balanceAfter"`
}

// WorkContext is handed to the guarded work. Reservation is nil on unlimited plans.
type WorkContext struct {
	UserID      string
	Plan        models.PlanTier
	Reservation *Reservation
}

type GuardResult[T any] struct {
	Value       T
	Plan        models.PlanTier
	Reservation *Reservation
}

type Guard struct {
	accounts        *repository.AccountRepository
	ledger          *LedgerService
	pricing         *pricing.Table
	refunds         *repository.RefundQueueRepository
	metrics         *metrics.Metrics
	log             *slog.Logger
	purchaseHintURL string
	refundTimeout   time.Duration
}

func NewGuard(accounts *repository.AccountRepository, ledger *LedgerService, table *pricing.Table, refunds *repository.RefundQueueRepository, m *metrics.Metrics, log *slog.Logger, purchaseHintURL string) *Guard {
	return &Guard{
		accounts:        accounts,
		ledger:          ledger,
		pricing:         table,
		refunds:         refunds,
		metrics:         m,
		log:             log.With("component", "guard"),
		purchaseHintURL: purchaseHintURL,
		refundTimeout:   15 * time.Second,
	}
}

// RunGuarded prices the request, reserves the credits, runs work and returns the credits
// if work fails. Credits are debited before work starts and no lock is held while it runs.
func RunGuarded[T any](ctx context.Context, g *Guard, userID string, req GuardRequest, work func(context.Context, WorkContext) (T, error)) (*GuardResult[T], error) {
	log := g.log.With("user_id", userID, "generation_type", req.GenerationType)

	state := StateResolving
	if userID == "" {
		return nil, g.fail(log, state, fmt.Errorf("user id is required: %w", models.ErrInvalidInput))
	}
	account, err := g.accounts.FindByUserID(ctx, userID)
	if err != nil {
		return nil, g.fail(log, state, fmt.Errorf("resolve account: %w", err))
	}
	if account == nil {
		return nil, g.fail(log, state, models.ErrUserNotFound)
	}

	state = StatePricing
	count := req.Count
	if count < 1 {
		count = 1
	}
	cost, err := g.pricing.CostFor(account.PlanTier, req.GenerationType, count)
	if err != nil {
		return nil, g.fail(log, state, fmt.Errorf("compute cost: %w", err))
	}

	wc := WorkContext{UserID: userID, Plan: account.PlanTier}

	if cost == 0 {
		g.metrics.GuardOutcome(string(StateUnlimitedBypass))
		value, err := execute(ctx, g, req.GenerationType, wc, work)
		if err != nil {
			log.Warn("guarded work failed on unlimited plan", "err", err)
			g.metrics.GuardOutcome(string(StateFailed))
			return nil, &GuardError{Code: GuardUnknown, Err: err}
		}
		g.metrics.GuardOutcome(string(StateCommitted))
		return &GuardResult[T]{Value: value, Plan: account.PlanTier}, nil
	}

	if account.CreditsBalance < cost {
		return nil, g.insufficient(log, cost, account.CreditsBalance)
	}

	description := req.Description
	if description == "" {
		description = fmt.Sprintf("%s x%d", req.GenerationType, count)
	}
	entry, err := g.ledger.Debit(ctx, DebitInput{UserID: userID, Amount: cost, Description: description})
	if err != nil {
		var insufficient *models.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			return nil, g.insufficient(log, insufficient.Needed, insufficient.Have)
		}
		return nil, g.fail(log, StateReserved, fmt.Errorf("reserve credits: %w", err))
	}
	g.metrics.CreditsDebited("guard", cost)

	reservation := &Reservation{TransactionID: entry.TransactionID, CreditsUsed: cost, BalanceAfter: entry.BalanceAfter}
	wc.Reservation = reservation
	log = log.With("transaction_id", entry.TransactionID, "credits", cost)
	log.Info("credits reserved", "balance_after", entry.BalanceAfter)

	value, workErr := execute(ctx, g, req.GenerationType, wc, work)
	if workErr == nil {
		g.metrics.GuardOutcome(string(StateCommitted))
		return &GuardResult[T]{Value: value, Plan: account.PlanTier, Reservation: reservation}, nil
	}

	log.Warn("guarded work failed", "err", workErr)
	guardErr := &GuardError{Code: GuardUnknown, Err: workErr}
	if req.AutoRefundOnFailure != nil && !*req.AutoRefundOnFailure {
		g.metrics.GuardOutcome(string(StateFailed))
		return nil, guardErr
	}
	guardErr.Refunded = g.refund(ctx, log, userID, reservation, workErr)
	return nil, guardErr
}

// execute runs work, converting a panic or an already-cancelled context into an error.
func execute[T any](ctx context.Context, g *Guard, genType models.GenerationType, wc WorkContext, work func(context.Context, WorkContext) (T, error)) (value T, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("guarded work panicked: %v", r)
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		g.metrics.WorkDone(string(genType), outcome, time.Since(start))
	}()

	if err := ctx.Err(); err != nil {
		return value, fmt.Errorf("request cancelled before work started: %w", err)
	}
	return work(ctx, wc)
}

// refund returns the reservation on a context detached from the request, so a cancelled
// request still gets its credits back. A refund that cannot be written goes to the retry queue.
func (g *Guard) refund(ctx context.Context, log *slog.Logger, userID string, r *Reservation, cause error) bool {
	refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.refundTimeout)
	defer cancel()

	reason := fmt.Sprintf("Auto-refund: %s", truncate(cause.Error(), 200))
	entry, err := g.ledger.Refund(refundCtx, userID, r.TransactionID, reason)
	if err == nil || errors.Is(err, models.ErrAlreadyRefunded) {
		g.metrics.CreditsRefunded(r.CreditsUsed)
		g.metrics.GuardOutcome(string(StateRefunded))
		if entry != nil {
			log.Info("reservation refunded", "refund_id", entry.TransactionID, "balance_after", entry.BalanceAfter)
		}
		return true
	}

	g.metrics.RefundFailed()
	g.metrics.GuardOutcome(string(StateRefundQueued))
	log.Error("refund failed, queueing for retry", "err", err)
	if g.refunds == nil {
		return false
	}
	if qerr := g.refunds.Enqueue(refundCtx, userID, r.TransactionID, reason, err.Error()); qerr != nil {
		log.Error("failed to queue refund", "err", qerr)
	}
	return false
}

func (g *Guard) insufficient(log *slog.Logger, needed, have int64) error {
	g.metrics.GuardOutcome(string(StateInsufficient))
	log.Info("insufficient credits", "needed", needed, "have", have)
	return &GuardError{
		Code:            GuardInsufficientCredits,
		Needed:          needed,
		Have:            have,
		PurchaseHintURL: g.purchaseHintURL,
		Err:             &models.InsufficientCreditsError{Needed: needed, Have: have},
	}
}

func (g *Guard) fail(log *slog.Logger, state GuardState, err error) error {
	g.metrics.GuardOutcome(string(StateFailed))
	log.Error("guard failed", "state", state, "err", err)
	return &GuardError{Code: GuardUnknown, Err: err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
