package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/digkill/genstudio/internal/config"
	"github.com/digkill/genstudio/internal/database"
	"github.com/digkill/genstudio/internal/metrics"
	"github.com/digkill/genstudio/internal/models"
	"github.com/digkill/genstudio/internal/repository"
)

const (
	ProviderTelegram = "telegram"
	ProviderYooKassa = "yookassa"

	defaultYooKassaAPI = "https://api.yookassa.ru/v3/payments"
)

var ErrPaymentNotFound = errors.New("payment not found")

// BotSender is the part of the Telegram bot API the payment flow needs.
type BotSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// PaymentService sells credit packages and credits purchases into the ledger. A provider
// charge id is recorded once, so replays of the same payment never credit twice.
type PaymentService struct {
	cfg         config.Config
	db          *database.DB
	payments    *repository.PaymentRepository
	ledger      *repository.LedgerRepository
	packages    *PackageService
	metrics     *metrics.Metrics
	log         *slog.Logger
	client      *http.Client
	yooKassaAPI string
}

func NewPaymentService(cfg config.Config, db *database.DB, payments *repository.PaymentRepository, ledger *repository.LedgerRepository, packages *PackageService, m *metrics.Metrics, log *slog.Logger) *PaymentService {
	return &PaymentService{
		cfg:      cfg,
		db:       db,
		payments: payments,
		ledger:   ledger,
		packages: packages,
		metrics:  m,
		log:      log.With("component", "payments"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		yooKassaAPI: defaultYooKassaAPI,
	}
}

// SendInvoice sends a payment invoice or link depending on the configured provider.
func (s *PaymentService) SendInvoice(ctx context.Context, bot BotSender, userID string, chatID int64) error {
	pkg, err := s.packages.Resolve(ctx, 0)
	if err != nil {
		return err
	}

	switch strings.ToLower(s.cfg.PaymentProvider) {
	case ProviderTelegram, "":
		return s.sendTelegramInvoice(pkg, bot, chatID)
	case ProviderYooKassa:
		link, err := s.CreatePaymentLink(ctx, userID, pkg.ID)
		if err != nil {
			return err
		}
		text := fmt.Sprintf("Pay with YooKassa:\nPackage: %s\nAmount: %.2f %s\nPayment link: %s\nCredits are added automatically once the payment succeeds.",
			pkg.Title, float64(pkg.PriceMinorUnits)/100, pkg.Currency, link)
		if _, err := bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			return fmt.Errorf("send payment link: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported payment provider: %s", s.cfg.PaymentProvider)
	}
}

func (s *PaymentService) sendTelegramInvoice(pkg *models.CreditPackage, bot BotSender, chatID int64) error {
	prices := []tgbotapi.LabeledPrice{
		{
			Label:  fmt.Sprintf("%d credits", pkg.Credits),
			Amount: pkg.PriceMinorUnits,
		},
	}
	payload, _ := json.Marshal(map[string]any{"package_id": pkg.ID})

	description := pkg.Description
	if description == "" {
		description = "Credit top-up"
	}
	invoice := tgbotapi.NewInvoice(chatID,
		pkg.Title,
		description,
		string(payload),
		s.cfg.TelegramPaymentProviderToken,
		"topup",
		pkg.Currency,
		prices,
	)
	if _, err := bot.Send(invoice); err != nil {
		return fmt.Errorf("send invoice: %w", err)
	}
	return nil
}

func (s *PaymentService) HandlePreCheckout(bot BotSender, query *tgbotapi.PreCheckoutQuery) error {
	response := tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: query.ID,
		OK:                 true,
	}
	if _, err := bot.Request(response); err != nil {
		return fmt.Errorf("answer pre-checkout: %w", err)
	}
	return nil
}

// HandleSuccessfulPayment records a Telegram payment and credits the purchased package.
// The entry is nil when the charge id was already processed.
func (s *PaymentService) HandleSuccessfulPayment(ctx context.Context, userID string, payment *tgbotapi.SuccessfulPayment) (entry *models.LedgerEntry, err error) {
	if payment == nil || payment.ProviderPaymentChargeID == "" {
		return nil, models.NewValidationError("payment", "missing provider charge id")
	}
	var payload struct {
		PackageID int64 `json:"package_id"`
	}
	if err := json.Unmarshal([]byte(payment.InvoicePayload), &payload); err != nil {
		return nil, fmt.Errorf("parse payment payload: %w", err)
	}
	pkg, err := s.packages.Resolve(ctx, payload.PackageID)
	if err != nil {
		return nil, err
	}

	packageID := pkg.ID
	record := &models.Payment{
		UserID:         userID,
		PackageID:      &packageID,
		Provider:       ProviderTelegram,
		ProviderCharge: payment.ProviderPaymentChargeID,
		Currency:       payment.Currency,
		Amount:         payment.TotalAmount,
		Status:         repository.PaymentStatusPaid,
		RawPayload:     string(jsonMustMarshal(payment)),
	}
	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		created, err := s.payments.Create(ctx, tx, record)
		if err != nil || !created {
			return err
		}
		entry, err = s.creditPurchase(ctx, tx, userID, pkg)
		return err
	})
	s.metrics.LedgerOp("purchase", err)
	if err != nil {
		return nil, fmt.Errorf("record telegram payment: %w", err)
	}
	if entry == nil {
		s.log.Info("duplicate telegram payment ignored", "user_id", userID, "charge_id", payment.ProviderPaymentChargeID)
		return nil, nil
	}
	s.log.Info("telegram payment credited", "user_id", userID, "credits", pkg.Credits, "balance_after", entry.BalanceAfter)
	return entry, nil
}

type yooPaymentResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Confirmation struct {
		Type string `json:"type"`
		URL  string `json:"confirmation_url"`
	} `json:"confirmation"`
	Amount struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"amount"`
}

// LinksEnabled reports whether CreatePaymentLink can reach a provider.
func (s *PaymentService) LinksEnabled() bool {
	return s.cfg.YooKassaShopID != "" && s.cfg.YooKassaSecretKey != ""
}

// CreatePaymentLink opens a YooKassa payment for the package and records it as pending.
func (s *PaymentService) CreatePaymentLink(ctx context.Context, userID string, packageID int64) (string, error) {
	pkg, err := s.packages.Resolve(ctx, packageID)
	if err != nil {
		return "", err
	}
	payment, err := s.createYooKassaPayment(ctx, userID, pkg)
	if err != nil {
		return "", err
	}

	id := pkg.ID
	record := &models.Payment{
		UserID:         userID,
		PackageID:      &id,
		Provider:       ProviderYooKassa,
		ProviderCharge: payment.ID,
		Currency:       pkg.Currency,
		Amount:         pkg.PriceMinorUnits,
		Status:         payment.Status,
		RawPayload:     string(jsonMustMarshal(payment)),
	}
	if _, err := s.payments.Create(ctx, s.db, record); err != nil {
		return "", fmt.Errorf("record payment: %w", err)
	}
	return payment.Confirmation.URL, nil
}

func (s *PaymentService) createYooKassaPayment(ctx context.Context, userID string, pkg *models.CreditPackage) (*yooPaymentResponse, error) {
	if s.cfg.YooKassaShopID == "" || s.cfg.YooKassaSecretKey == "" {
		return nil, fmt.Errorf("yookassa credentials are not configured")
	}

	returnURL := s.cfg.YooKassaReturnURL
	if returnURL == "" {
		returnURL = "https://t.me"
	}
	payload := map[string]any{
		"amount": map[string]string{
			"value":    fmt.Sprintf("%.2f", float64(pkg.PriceMinorUnits)/100),
			"currency": pkg.Currency,
		},
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": returnURL,
		},
		"capture":     true,
		"description": fmt.Sprintf("%s (%d credits)", pkg.Title, pkg.Credits),
		"metadata":    map[string]string{"user_id": userID, "package_id": strconv.FormatInt(pkg.ID, 10)},
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.yooKassaAPI, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build yookassa request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", uuid.NewString())
	req.SetBasicAuth(s.cfg.YooKassaShopID, s.cfg.YooKassaSecretKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yookassa request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("yookassa error: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var parsed yooPaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode yookassa response: %w", err)
	}
	if parsed.ID == "" || parsed.Confirmation.URL == "" {
		return nil, fmt.Errorf("invalid yookassa response (missing id or confirmation url)")
	}
	if parsed.Status == "" {
		parsed.Status = repository.PaymentStatusPending
	}
	return &parsed, nil
}

// HandleYooKassaWebhook applies a payment status notification. The notification only names
// the payment; its status and amount are re-read from YooKassa before anything is credited.
// Success credits the package and flips the payment to paid in one transaction; repeats are no-ops.
func (s *PaymentService) HandleYooKassaWebhook(ctx context.Context, payload []byte) error {
	var evt struct {
		Event  string `json:"event"`
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		return models.NewValidationError("body", "invalid webhook JSON")
	}
	if evt.Object.ID == "" {
		return models.NewValidationError("object.id", "missing payment id")
	}

	pmt, err := s.payments.FindByProviderCharge(ctx, ProviderYooKassa, evt.Object.ID)
	if err != nil {
		return fmt.Errorf("find payment: %w", err)
	}
	if pmt == nil {
		return fmt.Errorf("payment %s: %w", evt.Object.ID, ErrPaymentNotFound)
	}
	if pmt.Status == repository.PaymentStatusPaid {
		return nil
	}

	remote, err := s.fetchYooKassaPayment(ctx, pmt.ProviderCharge)
	if err != nil {
		return err
	}
	raw := string(jsonMustMarshal(remote))

	if remote.Status != "succeeded" {
		if err := s.payments.UpdateStatus(ctx, pmt.ID, remote.Status, raw); err != nil {
			return err
		}
		s.log.Info("yookassa payment status updated", "payment_id", pmt.ID, "status", remote.Status, "event", evt.Event)
		return nil
	}
	if err := checkYooKassaAmount(remote, pmt); err != nil {
		s.log.Error("yookassa amount mismatch", "payment_id", pmt.ID, "err", err)
		return err
	}

	var packageID int64
	if pmt.PackageID != nil {
		packageID = *pmt.PackageID
	}
	pkg, err := s.packages.Resolve(ctx, packageID)
	if err != nil {
		return err
	}

	var entry *models.LedgerEntry
	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		marked, err := s.payments.MarkPaidTx(ctx, tx, pmt.ID, raw)
		if err != nil || !marked {
			return err
		}
		entry, err = s.creditPurchase(ctx, tx, pmt.UserID, pkg)
		return err
	})
	s.metrics.LedgerOp("purchase", err)
	if err != nil {
		return fmt.Errorf("credit yookassa payment: %w", err)
	}
	if entry != nil {
		s.log.Info("yookassa payment credited", "user_id", pmt.UserID, "credits", pkg.Credits, "balance_after", entry.BalanceAfter)
	}
	return nil
}

func (s *PaymentService) fetchYooKassaPayment(ctx context.Context, id string) (*yooPaymentResponse, error) {
	if !s.LinksEnabled() {
		return nil, fmt.Errorf("yookassa credentials are not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.yooKassaAPI+"/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("build yookassa request: %w", err)
	}
	req.SetBasicAuth(s.cfg.YooKassaShopID, s.cfg.YooKassaSecretKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yookassa request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("yookassa error: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var parsed yooPaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode yookassa response: %w", err)
	}
	if parsed.ID != id {
		return nil, fmt.Errorf("yookassa returned payment %q for %q", parsed.ID, id)
	}
	return &parsed, nil
}

// checkYooKassaAmount compares the provider's settled amount with what the payment was opened for.
func checkYooKassaAmount(remote *yooPaymentResponse, pmt *models.Payment) error {
	value, err := strconv.ParseFloat(remote.Amount.Value, 64)
	if err != nil {
		return fmt.Errorf("parse yookassa amount %q: %w", remote.Amount.Value, err)
	}
	minor := int(math.Round(value * 100))
	if minor != pmt.Amount || !strings.EqualFold(remote.Amount.Currency, pmt.Currency) {
		return fmt.Errorf("yookassa payment %s settled %s %s, expected %d minor units of %s",
			remote.ID, remote.Amount.Value, remote.Amount.Currency, pmt.Amount, pmt.Currency)
	}
	return nil
}

func (s *PaymentService) creditPurchase(ctx context.Context, tx *sql.Tx, userID string, pkg *models.CreditPackage) (*models.LedgerEntry, error) {
	return s.ledger.CreditTx(ctx, tx, repository.Posting{
		UserID:      userID,
		Type:        models.TxPurchase,
		Amount:      pkg.Credits,
		Description: fmt.Sprintf("Purchase: %s", pkg.Title),
	})
}

func jsonMustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}
