package telegram

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/genstudio/internal/app"
	"github.com/digkill/genstudio/internal/config"
	"github.com/digkill/genstudio/internal/database/dbtest"
	"github.com/digkill/genstudio/internal/models"
	"github.com/digkill/genstudio/internal/pricing"
	"github.com/digkill/genstudio/internal/service"
)

const chatID = 42

// A 1x1 PNG.
var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89\x00\x00\x00\rIDATx\x9cc\xf8\x0f\x00\x00\x01\x01\x00\x05\x18\xd8N\x00\x00\x00\x00IEND\xaeB`\x82")

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetFile(cfg tgbotapi.FileConfig) (tgbotapi.File, error) {
	return tgbotapi.File{FileID: cfg.FileID, FilePath: "photos/" + cfg.FileID + ".png"}, nil
}

func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		if msg, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, msg.Text)
		}
	}
	return out
}

func (f *fakeAPI) lastText() string {
	texts := f.texts()
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

func (f *fakeAPI) photos() []tgbotapi.PhotoConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.PhotoConfig
	for _, c := range f.sent {
		if p, ok := c.(tgbotapi.PhotoConfig); ok {
			out = append(out, p)
		}
	}
	return out
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls []models.GenerationRequest
}

func (g *fakeGenerator) Generate(_ context.Context, genType models.GenerationType, req models.GenerationRequest) ([]string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	g.mu.Unlock()
	if genType == models.GenerationVideo {
		return []string{"https://worker/clip.mp4"}, nil
	}
	urls := make([]string, req.Count)
	for i := range urls {
		urls[i] = "https://worker/img.png"
	}
	return urls, nil
}

type fakeStorage struct {
	uploads []string
}

func (s *fakeStorage) Upload(_ context.Context, data []byte, contentType string) (string, error) {
	s.uploads = append(s.uploads, contentType)
	return "https://cdn/ref.png", nil
}

type harness struct {
	bot     *Bot
	api     *fakeAPI
	gen     *fakeGenerator
	storage *fakeStorage
	svc     *app.Services
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	table, err := pricing.NewTable(nil, log)
	require.NoError(t, err)
	cfg := config.Config{
		SignupBonusCredits:       10,
		PromoBonusCredits:        20,
		RefundMaxAttempts:        3,
		PaymentProvider:          service.ProviderTelegram,
		PaymentCurrency:          "USD",
		PaymentPriceMinorUnits:   999,
		PaymentCreditsPerPackage: 100,
	}
	gen := &fakeGenerator{}
	svc := app.New(cfg, dbtest.New(t), table, gen, nil, nil, log)
	require.NoError(t, svc.Packages.EnsureDefaultPackage(context.Background()))

	api := &fakeAPI{}
	storage := &fakeStorage{}
	bot := newBot(api, Services{
		Accounts:    svc.Accounts,
		Ledger:      svc.Ledger,
		Generations: svc.Generations,
		Promos:      svc.Promos,
		Payments:    svc.Payments,
		Pricing:     table,
	}, storage, log)
	return &harness{bot: bot, api: api, gen: gen, storage: storage, svc: svc}
}

func (h *harness) command(text string) {
	name, _, _ := strings.Cut(text, " ")
	h.bot.handleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: chatID},
		From:     &tgbotapi.User{ID: chatID, FirstName: "Ann"},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}})
}

func (h *harness) text(text string) {
	h.bot.handleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		Text: text,
		Chat: &tgbotapi.Chat{ID: chatID},
		From: &tgbotapi.User{ID: chatID},
	}})
}

func (h *harness) balance(t *testing.T) int64 {
	t.Helper()
	b, err := h.svc.Ledger.GetBalance(context.Background(), service.TelegramUserID(chatID))
	require.NoError(t, err)
	return b
}

func TestStartCreatesAccountAndShowsPrices(t *testing.T) {
	h := newHarness(t)

	h.command("/start")
	text := h.api.lastText()
	assert.Contains(t, text, "Hi, Ann!")
	assert.Contains(t, text, "10 credits on the free plan")
	assert.Contains(t, text, "apparel: 2 credits")
	assert.Contains(t, text, "video: 5 credits")
	assert.Equal(t, int64(10), h.balance(t))

	h.command("/start")
	assert.Equal(t, int64(10), h.balance(t))
}

func TestInlinePromptGeneratesAndCharges(t *testing.T) {
	h := newHarness(t)

	h.command("/apparel 2 red hoodie")
	photos := h.api.photos()
	require.Len(t, photos, 2)
	assert.Equal(t, tgbotapi.FileURL("https://worker/img.png"), photos[0].File)
	assert.Empty(t, photos[0].Caption)
	assert.Equal(t, "Credits used: 4\nBalance: 6", photos[1].Caption)
	require.Len(t, h.gen.calls, 1)
	assert.Equal(t, "red hoodie", h.gen.calls[0].Prompt)
	assert.Equal(t, 2, h.gen.calls[0].Count)
	assert.Equal(t, int64(6), h.balance(t))

	h.text("another one")
	assert.Contains(t, h.api.lastText(), "/generate")
}

func TestKeyboardSelectionThenPrompt(t *testing.T) {
	h := newHarness(t)

	h.command("/generate")
	h.bot.handleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		Data:    string(models.GenerationProduct),
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}},
	}})
	require.Len(t, h.api.requests, 1)
	assert.Contains(t, h.api.lastText(), "Send the prompt")

	h.text("3 ceramic mug")
	require.Len(t, h.gen.calls, 1)
	assert.Equal(t, 3, h.gen.calls[0].Count)
	assert.Equal(t, int64(7), h.balance(t))
}

func TestInsufficientCreditsMessage(t *testing.T) {
	h := newHarness(t)

	h.command("/video spin")
	h.command("/video spin again")
	assert.Equal(t, int64(0), h.balance(t))

	h.command("/video one more")
	assert.Equal(t, "Not enough credits: this needs 5 and you have 0. Use /buy to top up or /promo to redeem a code.", h.api.lastText())
	assert.Len(t, h.gen.calls, 2)
}

func TestPromoAndHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.Promos.Create(ctx, service.CreatePromoInput{Code: "WELCOME", MaxUses: 5, Credits: 25})
	require.NoError(t, err)

	h.command("/promo")
	assert.Equal(t, "Usage: /promo CODE", h.api.lastText())

	h.command("/promo nope")
	assert.Equal(t, "This promo code is not valid.", h.api.lastText())

	h.command("/promo welcome")
	assert.Equal(t, "Promo code applied! Your balance is now 35 credits.", h.api.lastText())

	h.command("/promo welcome")
	assert.Equal(t, "You have already used this promo code.", h.api.lastText())

	h.command("/history")
	history := h.api.lastText()
	assert.Contains(t, history, "+25  Promo code WELCOME (balance 35)")
	assert.Contains(t, history, "+10  Welcome bonus (balance 10)")

	h.command("/balance")
	assert.Equal(t, "Balance: 35 credits\nPlan: free", h.api.lastText())
}

func TestBuySendsInvoiceAndPaymentCredits(t *testing.T) {
	h := newHarness(t)

	h.command("/buy")
	var invoice *tgbotapi.InvoiceConfig
	for _, c := range h.api.sent {
		if inv, ok := c.(tgbotapi.InvoiceConfig); ok {
			invoice = &inv
		}
	}
	require.NotNil(t, invoice)

	payment := &tgbotapi.SuccessfulPayment{
		Currency:                "USD",
		TotalAmount:             999,
		InvoicePayload:          invoice.Payload,
		ProviderPaymentChargeID: "charge-9",
	}
	msg := &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}, SuccessfulPayment: payment}
	h.bot.handleUpdate(context.Background(), tgbotapi.Update{Message: msg})
	assert.Equal(t, "Payment received! Your balance is now 110 credits.", h.api.lastText())

	sent := len(h.api.texts())
	h.bot.handleUpdate(context.Background(), tgbotapi.Update{Message: msg})
	assert.Len(t, h.api.texts(), sent)
	assert.Equal(t, int64(110), h.balance(t))
}

func TestReferenceImagesFlowIntoGeneration(t *testing.T) {
	h := newHarness(t)
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(pngBytes)
	}))
	defer files.Close()
	h.bot.fileURL = func(p string) string { return files.URL + "/" + p }

	h.bot.handleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:  &tgbotapi.Chat{ID: chatID},
		Photo: []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "large"}},
	}})
	assert.Equal(t, []string{"image/png"}, h.storage.uploads)
	assert.Contains(t, h.api.lastText(), "Reference saved (1/8)")

	h.bot.handleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		Document: &tgbotapi.Document{FileID: "doc", MimeType: "application/pdf"},
	}})
	assert.Contains(t, h.api.lastText(), "not an image")

	h.command("/product mug")
	require.Len(t, h.gen.calls, 1)
	assert.Equal(t, []string{"https://cdn/ref.png"}, h.gen.calls[0].InputURLs)

	h.command("/clearrefs")
	h.command("/product mug")
	require.Len(t, h.gen.calls, 2)
	assert.Empty(t, h.gen.calls[1].InputURLs)
}

func TestSplitCount(t *testing.T) {
	cases := []struct {
		in     string
		count  int
		prompt string
	}{
		{"red hoodie", 1, "red hoodie"},
		{"3 red hoodie", 3, "red hoodie"},
		{"9 lives cat", 1, "9 lives cat"},
		{"0 things", 1, "0 things"},
		{"  2   mugs ", 2, "mugs"},
		{"4", 1, "4"},
	}
	for _, tc := range cases {
		count, prompt := splitCount(tc.in)
		assert.Equal(t, tc.count, count, tc.in)
		assert.Equal(t, tc.prompt, prompt, tc.in)
	}
}

func TestNormalizeImageContentType(t *testing.T) {
	ct, err := normalizeImageContentType("image/png; charset=binary", nil)
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)

	ct, err = normalizeImageContentType("", pngBytes)
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)

	_, err = normalizeImageContentType("text/plain", []byte("hello"))
	assert.ErrorIs(t, err, errReferenceNotImage)
}
