package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/genstudio/internal/models"
	"github.com/digkill/genstudio/internal/pricing"
	"github.com/digkill/genstudio/internal/repository"
	"github.com/digkill/genstudio/internal/service"
)

const (
	maxReferenceImages = 8
	maxReferenceBytes  = 20 << 20
	maxImageCount      = 4
	historyEntries     = 10
)

var errReferenceNotImage = errors.New("reference not image")

type ImageStorage interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

// botAPI is the part of *tgbotapi.BotAPI the handlers use.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
}

type Services struct {
	Accounts    *service.AccountService
	Ledger      *service.LedgerService
	Generations *service.GenerationService
	Promos      *service.PromoService
	Payments    *service.PaymentService
	Pricing     *pricing.Table
}

type Bot struct {
	Services
	client     *tgbotapi.BotAPI
	api        botAPI
	log        *slog.Logger
	storage    ImageStorage
	state      *StateManager
	httpClient *http.Client
	fileURL    func(filePath string) string
}

// NewBot builds the front end. storage may be nil, which disables reference images.
func NewBot(client *tgbotapi.BotAPI, services Services, storage ImageStorage, log *slog.Logger) *Bot {
	b := newBot(client, services, storage, log)
	b.client = client
	b.fileURL = func(filePath string) string {
		return fmt.Sprintf(tgbotapi.FileEndpoint, client.Token, filePath)
	}
	return b
}

func newBot(api botAPI, services Services, storage ImageStorage, log *slog.Logger) *Bot {
	return &Bot{
		Services:   services,
		api:        api,
		log:        log.With("component", "telegram"),
		storage:    storage,
		state:      NewStateManager(),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.client.GetUpdatesChan(u)
	b.log.Info("telegram bot started", "username", b.client.Self.UserName)

	// Generations take minutes, so each update gets its own goroutine.
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case update := <-updates:
			wg.Add(1)
			go func() {
				defer wg.Done()
				b.handleUpdate(ctx, update)
			}()
		case <-ctx.Done():
			b.client.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.PreCheckoutQuery != nil:
		if err := b.Payments.HandlePreCheckout(b.api, update.PreCheckoutQuery); err != nil {
			b.log.Error("pre-checkout failed", "err", err)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.SuccessfulPayment != nil {
		b.handleSuccessfulPayment(ctx, msg)
		return
	}

	if len(msg.Photo) > 0 || msg.Document != nil {
		if err := b.handleReferenceImage(ctx, msg); err != nil {
			if errors.Is(err, errReferenceNotImage) {
				b.sendText(msg.Chat.ID, "That is not an image. Send a photo or a picture file.")
			} else {
				b.log.Error("reference upload failed", "err", err)
				b.sendText(msg.Chat.ID, "Could not save the reference, please try again.")
			}
		}
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	session := b.state.Get(msg.Chat.ID)
	switch session.State {
	case StateAwaitingPrompt:
		b.handlePrompt(ctx, msg, session)
	default:
		b.sendText(msg.Chat.ID, "Send /generate to start a new generation.")
	}
}

func (b *Bot) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) {
	userID, err := b.ensureUser(ctx, msg)
	if err != nil {
		b.log.Error("ensure user payment", "err", err)
		return
	}
	entry, err := b.Payments.HandleSuccessfulPayment(ctx, userID, msg.SuccessfulPayment)
	if err != nil {
		b.log.Error("process successful payment", "err", err)
		b.sendText(msg.Chat.ID, "The payment went through but the credits could not be added yet. Support has been notified.")
		return
	}
	if entry == nil {
		return
	}
	b.sendText(msg.Chat.ID, fmt.Sprintf("Payment received! Your balance is now %d credits.", entry.BalanceAfter))
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	userID, err := b.ensureUser(ctx, msg)
	if err != nil {
		b.log.Error("ensure user", "command", msg.Command(), "err", err)
		b.sendText(msg.Chat.ID, "Something went wrong, please try again later.")
		return
	}

	switch msg.Command() {
	case "start", "help":
		b.handleStart(ctx, msg, userID)
	case "generate":
		b.promptTypeSelection(msg.Chat.ID)
	case "apparel", "product", "video":
		b.selectType(ctx, msg.Chat.ID, models.GenerationType(msg.Command()), msg.CommandArguments())
	case "promo":
		b.handlePromo(ctx, msg, userID)
	case "balance":
		b.handleBalance(ctx, msg, userID)
	case "history":
		b.handleHistory(ctx, msg, userID)
	case "buy":
		if err := b.Payments.SendInvoice(ctx, b.api, userID, msg.Chat.ID); err != nil {
			b.log.Error("send invoice", "err", err)
			b.sendText(msg.Chat.ID, "Could not create an invoice. Please try again later.")
		}
	case "clearrefs":
		b.state.ClearReferences(msg.Chat.ID)
		b.sendText(msg.Chat.ID, "References cleared.")
	default:
		b.sendText(msg.Chat.ID, "Unknown command. Use /generate.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message, userID string) {
	account, err := b.Accounts.Get(ctx, userID)
	if err != nil {
		b.log.Error("load account", "err", err)
		return
	}
	name := "there"
	if msg.From != nil && msg.From.FirstName != "" {
		name = msg.From.FirstName
	}
	text := fmt.Sprintf(
		"Hi, %s!\n\nYou have %d credits on the %s plan.\n%s\n\nCommands:\n/apparel <prompt> - apparel design\n/product <prompt> - product shot\n/video <prompt> - short video\n/generate - pick a type\n/clearrefs - drop reference images\n/promo <code> - redeem a promo code\n/balance - show your balance\n/history - recent credit activity\n/buy - buy credits",
		name, account.CreditsBalance, account.PlanTier, b.priceList(account.PlanTier),
	)
	b.sendText(msg.Chat.ID, text)
}

// priceList renders the per-item cost of every generation type on plan.
func (b *Bot) priceList(plan models.PlanTier) string {
	if b.Pricing == nil {
		return ""
	}
	lines := make([]string, 0, 3)
	for _, t := range []models.GenerationType{models.GenerationApparel, models.GenerationProduct, models.GenerationVideo} {
		cost, err := b.Pricing.CostFor(plan, t, 1)
		if err != nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %d credits", t, cost))
	}
	return strings.Join(lines, "\n")
}

func (b *Bot) handlePromo(ctx context.Context, msg *tgbotapi.Message, userID string) {
	code := strings.TrimSpace(msg.CommandArguments())
	if code == "" {
		b.sendText(msg.Chat.ID, "Usage: /promo CODE")
		return
	}
	entry, err := b.Promos.Redeem(ctx, userID, code)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrPromoNotFound), errors.Is(err, repository.ErrPromoExhausted):
			b.sendText(msg.Chat.ID, "This promo code is not valid.")
		case errors.Is(err, repository.ErrPromoAlreadyRedeemed):
			b.sendText(msg.Chat.ID, "You have already used this promo code.")
		default:
			b.log.Error("redeem promo", "err", err)
			b.sendText(msg.Chat.ID, "Could not apply the promo code, please try again later.")
		}
		return
	}
	b.sendText(msg.Chat.ID, fmt.Sprintf("Promo code applied! Your balance is now %d credits.", entry.BalanceAfter))
}

func (b *Bot) handleBalance(ctx context.Context, msg *tgbotapi.Message, userID string) {
	account, err := b.Accounts.Get(ctx, userID)
	if err != nil {
		b.log.Error("load balance", "err", err)
		return
	}
	b.sendText(msg.Chat.ID, fmt.Sprintf("Balance: %d credits\nPlan: %s", account.CreditsBalance, account.PlanTier))
}

func (b *Bot) handleHistory(ctx context.Context, msg *tgbotapi.Message, userID string) {
	txs, err := b.Ledger.GetHistory(ctx, userID, historyEntries)
	if err != nil {
		b.log.Error("load history", "err", err)
		return
	}
	if len(txs) == 0 {
		b.sendText(msg.Chat.ID, "No credit activity yet.")
		return
	}
	var sb strings.Builder
	sb.WriteString("Recent activity:\n")
	for _, tx := range txs {
		fmt.Fprintf(&sb, "%s  %+d  %s (balance %d)\n", tx.CreatedAt.Format("2006-01-02"), tx.SignedAmount(), describe(tx), tx.BalanceAfter)
	}
	b.sendText(msg.Chat.ID, strings.TrimSpace(sb.String()))
}

func describe(tx models.CreditTransaction) string {
	if tx.Description != "" {
		return tx.Description
	}
	return string(tx.Type)
}

func (b *Bot) promptTypeSelection(chatID int64) {
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Apparel", string(models.GenerationApparel))),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Product shot", string(models.GenerationProduct))),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Video", string(models.GenerationVideo))),
	)
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Pick what to generate. You can add up to %d reference images before sending the prompt.", maxReferenceImages))
	msg.ReplyMarkup = keyboard
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send keyboard", "err", err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	genType := models.GenerationType(cb.Data)
	if !genType.Valid() || cb.Message == nil {
		if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "Unknown choice")); err != nil {
			b.log.Error("callback error", "err", err)
		}
		return
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "Selected")); err != nil {
		b.log.Error("callback ack", "err", err)
	}
	b.selectType(ctx, cb.Message.Chat.ID, genType, "")
}

// selectType arms the chat for a prompt. A prompt passed along with the command runs at once.
func (b *Bot) selectType(ctx context.Context, chatID int64, genType models.GenerationType, args string) {
	session := b.state.Get(chatID)
	session.State = StateAwaitingPrompt
	session.GenerationType = genType
	session.Count = 1
	b.state.Set(chatID, session)

	if prompt := strings.TrimSpace(args); prompt != "" {
		b.runGeneration(ctx, chatID, prompt, session)
		return
	}
	hint := "Send the prompt."
	if genType != models.GenerationVideo {
		hint = fmt.Sprintf("Send the prompt. Start it with a number from 1 to %d to get several images, e.g. \"3 red hoodie\".", maxImageCount)
	}
	b.sendText(chatID, hint)
}

func (b *Bot) handlePrompt(ctx context.Context, msg *tgbotapi.Message, session *Session) {
	if strings.TrimSpace(msg.Text) == "" {
		b.sendText(msg.Chat.ID, "The prompt cannot be empty.")
		return
	}
	if _, err := b.ensureUser(ctx, msg); err != nil {
		b.log.Error("ensure user prompt", "err", err)
		return
	}
	b.runGeneration(ctx, msg.Chat.ID, msg.Text, session)
}

func (b *Bot) runGeneration(ctx context.Context, chatID int64, text string, session *Session) {
	count, prompt := splitCount(text)
	if session.GenerationType == models.GenerationVideo {
		count = 1
	}

	b.sendText(chatID, "Generation started, this can take a couple of minutes. I will send the result as soon as it is ready.")

	result, err := b.Generations.Generate(ctx, service.GenerationInput{
		UserID:         service.TelegramUserID(chatID),
		GenerationType: session.GenerationType,
		Count:          count,
		Prompt:         prompt,
		AspectRatio:    session.AspectRatio,
		Resolution:     session.Resolution,
		InputURLs:      session.ReferenceURLs,
	})
	if err != nil {
		b.reportGenerationError(chatID, err)
		return
	}

	b.deliver(chatID, session.GenerationType, result)
	b.state.Reset(chatID)
}

// splitCount reads an optional leading item count off a prompt.
func splitCount(text string) (int, string) {
	text = strings.TrimSpace(text)
	head, rest, ok := strings.Cut(text, " ")
	if !ok {
		return 1, text
	}
	n, err := strconv.Atoi(head)
	if err != nil || n < 1 || n > maxImageCount {
		return 1, text
	}
	return n, strings.TrimSpace(rest)
}

func (b *Bot) reportGenerationError(chatID int64, err error) {
	var guardErr *service.GuardError
	var validation *models.ValidationError
	switch {
	case errors.As(err, &guardErr) && guardErr.Code == service.GuardInsufficientCredits:
		b.sendText(chatID, fmt.Sprintf("Not enough credits: this needs %d and you have %d. Use /buy to top up or /promo to redeem a code.", guardErr.Needed, guardErr.Have))
	case errors.As(err, &validation):
		b.sendText(chatID, fmt.Sprintf("Cannot start: %s %s.", validation.Field, validation.Message))
	default:
		b.log.Error("generate", "chat_id", chatID, "err", err)
		text := "The generation failed, please try again later."
		if guardErr != nil && guardErr.Refunded {
			text = "The generation failed and your credits were returned. Please try again later."
		}
		b.sendText(chatID, text)
	}
}

func (b *Bot) deliver(chatID int64, genType models.GenerationType, result *service.GenerationResult) {
	caption := fmt.Sprintf("Credits used: %d", result.CreditsUsed)
	if result.BalanceAfter != nil {
		caption += fmt.Sprintf("\nBalance: %d", *result.BalanceAfter)
	}

	for i, u := range result.URLs {
		var c tgbotapi.Chattable
		if genType == models.GenerationVideo {
			video := tgbotapi.NewVideo(chatID, tgbotapi.FileURL(u))
			if i == len(result.URLs)-1 {
				video.Caption = caption
			}
			c = video
		} else {
			photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(u))
			if i == len(result.URLs)-1 {
				photo.Caption = caption
			}
			c = photo
		}
		if _, err := b.api.Send(c); err != nil {
			b.log.Error("send result", "url", u, "err", err)
			b.sendText(chatID, u)
		}
	}
}

func (b *Bot) handleReferenceImage(ctx context.Context, msg *tgbotapi.Message) error {
	if b.storage == nil {
		b.sendText(msg.Chat.ID, "Reference images are not available right now.")
		return nil
	}

	var fileID string
	switch {
	case len(msg.Photo) > 0:
		fileID = msg.Photo[len(msg.Photo)-1].FileID
	case msg.Document != nil:
		if mt := strings.ToLower(msg.Document.MimeType); mt != "" && !strings.HasPrefix(mt, "image/") {
			return errReferenceNotImage
		}
		fileID = msg.Document.FileID
	default:
		return nil
	}

	data, contentType, err := b.downloadFile(ctx, fileID)
	if err != nil {
		return err
	}
	url, err := b.storage.Upload(ctx, data, contentType)
	if err != nil {
		return err
	}

	session := b.state.Get(msg.Chat.ID)
	session.ReferenceURLs = append(session.ReferenceURLs, url)
	if len(session.ReferenceURLs) > maxReferenceImages {
		session.ReferenceURLs = session.ReferenceURLs[len(session.ReferenceURLs)-maxReferenceImages:]
	}
	b.state.Set(msg.Chat.ID, session)

	b.sendText(msg.Chat.ID, fmt.Sprintf("Reference saved (%d/%d). Send /generate or a prompt.", len(session.ReferenceURLs), maxReferenceImages))
	return nil
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("get file: %w", err)
	}
	if file.FilePath == "" {
		return nil, "", fmt.Errorf("file path empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.fileURL(file.FilePath), nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("telegram file status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReferenceBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read file body: %w", err)
	}
	if len(body) > maxReferenceBytes {
		return nil, "", fmt.Errorf("reference larger than %d bytes", maxReferenceBytes)
	}
	ct, err := normalizeImageContentType(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, "", err
	}
	return body, ct, nil
}

// ensureUser makes sure the sender has a ledger account and returns its id.
func (b *Bot) ensureUser(ctx context.Context, msg *tgbotapi.Message) (string, error) {
	userID := service.TelegramUserID(msg.Chat.ID)
	if _, _, err := b.Accounts.Ensure(ctx, userID, ""); err != nil {
		return "", err
	}
	return userID, nil
}

func (b *Bot) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send text", "err", err)
	}
}

func normalizeImageContentType(headerCT string, data []byte) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(headerCT))
	if idx := strings.Index(ct, ";"); idx > 0 {
		ct = ct[:idx]
	}
	if ct == "" || ct == "application/octet-stream" || !strings.HasPrefix(ct, "image/") {
		if len(data) > 0 {
			ct = http.DetectContentType(data)
			if idx := strings.Index(ct, ";"); idx > 0 {
				ct = ct[:idx]
			}
		}
	}

	switch ct {
	case "image/jpeg", "image/jpg":
		return "image/jpeg", nil
	case "image/png":
		return "image/png", nil
	case "image/webp":
		return "image/webp", nil
	default:
		return "", errReferenceNotImage
	}
}
