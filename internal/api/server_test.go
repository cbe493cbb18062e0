package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/genstudio/internal/app"
	"github.com/digkill/genstudio/internal/auth"
	"github.com/digkill/genstudio/internal/config"
	"github.com/digkill/genstudio/internal/database/dbtest"
	"github.com/digkill/genstudio/internal/metrics"
	"github.com/digkill/genstudio/internal/models"
	"github.com/digkill/genstudio/internal/pricing"
)

const (
	testSecret   = "gw-secret"
	testHintURL  = "/billing/credits"
	adminUser    = "admin"
	adminPass    = "hunter2"
	signupCredit = 10
)

type fakeGenerator struct {
	urls []string
	err  error
}

func (f *fakeGenerator) Generate(context.Context, models.GenerationType, models.GenerationRequest) ([]string, error) {
	return f.urls, f.err
}

type fakeBot struct {
	sent []int64
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		b.sent = append(b.sent, msg.ChatID)
	}
	return tgbotapi.Message{}, nil
}

func (b *fakeBot) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

type harness struct {
	t      *testing.T
	svc    *app.Services
	gen    *fakeGenerator
	bot    *fakeBot
	server *Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	table, err := pricing.NewTable(nil, log)
	require.NoError(t, err)

	cfg := config.Config{
		PurchaseHintURL:          testHintURL,
		SignupBonusCredits:       signupCredit,
		PromoBonusCredits:        20,
		RefundMaxAttempts:        3,
		PaymentCurrency:          "USD",
		PaymentPriceMinorUnits:   999,
		PaymentCreditsPerPackage: 100,
	}
	gen := &fakeGenerator{urls: []string{"https://worker/a.png"}}
	m := metrics.New(prometheus.NewRegistry())
	svc := app.New(cfg, dbtest.New(t), table, gen, nil, m, log)
	bot := &fakeBot{}

	server := NewServer(":0", Deps{
		Accounts:        svc.Accounts,
		Ledger:          svc.Ledger,
		Usage:           svc.Usage,
		Analytics:       svc.Analytics,
		Generations:     svc.Generations,
		Packages:        svc.Packages,
		Promos:          svc.Promos,
		Payments:        svc.Payments,
		Resolver:        auth.HeaderResolver{Secret: testSecret},
		Metrics:         m,
		Bot:             bot,
		AdminUsername:   adminUser,
		AdminPassword:   adminPass,
		PurchaseHintURL: testHintURL,
	}, log)
	return &harness{t: t, svc: svc, gen: gen, bot: bot, server: server}
}

func (h *harness) do(method, path, userID string, body any) (int, map[string]any) {
	h.t.Helper()
	req := h.request(method, path, body)
	if userID != "" {
		req.Header.Set(auth.HeaderUserID, userID)
		req.Header.Set(auth.HeaderGatewaySecret, testSecret)
	}
	return h.serve(req)
}

func (h *harness) admin(method, path string, body any) (int, map[string]any) {
	h.t.Helper()
	req := h.request(method, path, body)
	req.SetBasicAuth(adminUser, adminPass)
	return h.serve(req)
}

func (h *harness) request(method, path string, body any) *http.Request {
	h.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(h.t, json.NewEncoder(&buf).Encode(b))
	}
	return httptest.NewRequest(method, path, &buf)
}

func (h *harness) serve(req *http.Request) (int, map[string]any) {
	h.t.Helper()
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	out := map[string]any{}
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])

	code, _ = h.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestUnauthenticatedRequestsAreRejected(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(http.MethodGet, "/api/v1/credits/balance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHENTICATED", body["code"])

	req := h.request(http.MethodGet, "/api/v1/credits/balance", nil)
	req.Header.Set(auth.HeaderUserID, "u1")
	req.Header.Set(auth.HeaderGatewaySecret, "wrong")
	code, _ = h.serve(req)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestBalanceCreatesAccountWithSignupBonus(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(http.MethodGet, "/api/v1/credits/balance", "u1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, signupCredit, body["creditsBalance"])
	assert.Equal(t, string(models.PlanFree), body["planTier"])

	code, body = h.do(http.MethodGet, "/api/v1/credits/balance", "u1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, signupCredit, body["creditsBalance"])
}

func TestRecordUsage(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(http.MethodPost, "/api/v1/credits/record-usage", "u1", map[string]any{
		"eventType": "chat_completion",
		"cost":      2.5,
		"tokens":    900,
		"requestId": "r-1",
	})
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 3, body["creditsCharged"])
	assert.EqualValues(t, 7, body["balanceAfter"])
	assert.Equal(t, false, body["duplicate"])

	code, body = h.do(http.MethodPost, "/api/v1/credits/record-usage", "u1", map[string]any{
		"eventType": "chat_completion",
		"cost":      2.5,
		"requestId": "r-1",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["duplicate"])
	assert.EqualValues(t, 7, body["balanceAfter"])

	code, body = h.do(http.MethodPost, "/api/v1/credits/record-usage", "u1", map[string]any{"eventType": "x", "cost": -1})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])

	code, _ = h.do(http.MethodPost, "/api/v1/credits/record-usage", "u1", "{not json")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = h.do(http.MethodPost, "/api/v1/credits/record-usage", "u1", map[string]any{"eventType": "x", "cost": 50})
	assert.Equal(t, http.StatusPaymentRequired, code)
	assert.Equal(t, "INSUFFICIENT_CREDITS", body["code"])
	assert.EqualValues(t, 50, body["needed"])
	assert.EqualValues(t, 7, body["have"])
	assert.Equal(t, testHintURL, body["purchaseHintUrl"])
}

func TestHistoryClampsAndMergesUsage(t *testing.T) {
	h := newHarness(t)
	code, _ := h.do(http.MethodPost, "/api/v1/credits/record-usage", "u1", map[string]any{"eventType": "embed", "cost": 1})
	require.Equal(t, http.StatusOK, code)

	code, body := h.do(http.MethodGet, "/api/v1/credits/history?days=1&limit=5000", "u1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 7, body["days"])
	assert.EqualValues(t, 200, body["limit"])
	assert.Len(t, body["transactions"], 2)
	assert.Len(t, body["usageEvents"], 1)

	code, _ = h.do(http.MethodGet, "/api/v1/credits/history?days=abc", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGenerateImagesAndVideo(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(http.MethodPost, "/api/v1/generate/apparel", "u1", map[string]any{"prompt": "hoodie", "settings": map[string]string{"style": "flat"}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"https://worker/a.png"}, body["images"])
	assert.EqualValues(t, 2, body["creditsUsed"])
	assert.EqualValues(t, 8, body["balanceAfter"])
	assert.NotEmpty(t, body["generationId"])
	assert.NotContains(t, body, "videoUrl")

	h.gen.urls = []string{"https://worker/clip.mp4"}
	code, body = h.do(http.MethodPost, "/api/v1/generate/video", "u1", map[string]any{"prompt": "spin", "count": 3})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "https://worker/clip.mp4", body["videoUrl"])
	assert.EqualValues(t, 5, body["creditsUsed"])
	assert.EqualValues(t, 3, body["balanceAfter"])
	assert.NotContains(t, body, "images")

	code, _ = h.do(http.MethodPost, "/api/v1/generate/poster", "u1", map[string]any{"prompt": "x"})
	assert.Equal(t, http.StatusNotFound, code)

	code, body = h.do(http.MethodPost, "/api/v1/generate/product", "u1", map[string]any{"prompt": " "})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "prompt", body["field"])
}

func TestGenerateInsufficientCredits(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(http.MethodPost, "/api/v1/generate/video", "u1", map[string]any{"prompt": "a"})
	require.Equal(t, http.StatusOK, code)
	code, body = h.do(http.MethodPost, "/api/v1/generate/video", "u1", map[string]any{"prompt": "b"})
	require.Equal(t, http.StatusOK, code)

	code, body = h.do(http.MethodPost, "/api/v1/generate/video", "u1", map[string]any{"prompt": "c"})
	assert.Equal(t, http.StatusPaymentRequired, code)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "INSUFFICIENT_CREDITS", body["code"])
	assert.EqualValues(t, 5, body["needed"])
	assert.EqualValues(t, 0, body["have"])
	assert.Equal(t, testHintURL, body["purchaseHintUrl"])
}

func TestGenerateWorkerFailureHidesDetailsAndRefunds(t *testing.T) {
	h := newHarness(t)
	h.gen.err = errors.New("upstream token sk-123 rejected")

	code, body := h.do(http.MethodPost, "/api/v1/generate/product", "u1", map[string]any{"prompt": "mug"})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "internal error", body["error"])
	assert.Equal(t, true, body["refunded"])

	balance, err := h.svc.Ledger.GetBalance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(signupCredit), balance)
}

func TestGenerateWorkerSentinelErrorsStayInternal(t *testing.T) {
	for name, cause := range map[string]error{
		"invalid input":   models.ErrInvalidInput,
		"not found":       models.ErrTransactionNotFound,
		"validation":      models.NewValidationError("model", "not configured"),
		"unauthenticated": models.ErrUnauthenticated,
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.gen.err = fmt.Errorf("build task payload: %w", cause)

			code, body := h.do(http.MethodPost, "/api/v1/generate/apparel", "u1", map[string]any{"prompt": "tee"})
			assert.Equal(t, http.StatusInternalServerError, code)
			assert.Equal(t, "UNKNOWN", body["code"])
			assert.Equal(t, "internal error", body["error"])
			assert.Equal(t, true, body["refunded"])
			assert.NotContains(t, body, "field")

			balance, err := h.svc.Ledger.GetBalance(context.Background(), "u1")
			require.NoError(t, err)
			assert.Equal(t, int64(signupCredit), balance)
		})
	}
}

func TestAdminRequiresBasicAuth(t *testing.T) {
	h := newHarness(t)

	code, _ := h.do(http.MethodGet, "/admin/packages/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	req := h.request(http.MethodGet, "/admin/packages/", nil)
	req.SetBasicAuth(adminUser, "nope")
	code, _ = h.serve(req)
	assert.Equal(t, http.StatusUnauthorized, code)

	req = h.request(http.MethodGet, "/admin/packages/", nil)
	req.SetBasicAuth("root", adminPass)
	code, _ = h.serve(req)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAdminCredentialsMatch(t *testing.T) {
	s := &Server{Deps: Deps{AdminUsername: "admin", AdminPassword: "s3cret"}}
	assert.True(t, s.adminCredentialsMatch("admin", "s3cret"))
	assert.False(t, s.adminCredentialsMatch("admin", "s3cre"))
	assert.False(t, s.adminCredentialsMatch("admin", "s3cret!"))
	assert.False(t, s.adminCredentialsMatch("Admin", "s3cret"))
	assert.False(t, s.adminCredentialsMatch("", ""))

	s.AdminPassword = ""
	assert.False(t, s.adminCredentialsMatch("admin", ""))
}

func TestAdminGrantRefundAndPlan(t *testing.T) {
	h := newHarness(t)
	code, _ := h.do(http.MethodGet, "/api/v1/credits/balance", "u1", nil)
	require.Equal(t, http.StatusOK, code)

	code, body := h.admin(http.MethodPost, "/admin/users/u1/grant", map[string]any{"amount": 15})
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 25, body["balanceAfter"])

	code, _ = h.admin(http.MethodPost, "/admin/users/u1/grant", map[string]any{"amount": 5, "type": "usage"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.admin(http.MethodPost, "/admin/users/ghost/grant", map[string]any{"amount": 5})
	assert.Equal(t, http.StatusNotFound, code)

	code, body = h.do(http.MethodPost, "/api/v1/credits/record-usage", "u1", map[string]any{"eventType": "x", "cost": 4})
	require.Equal(t, http.StatusOK, code)
	usageTx := body["transactionId"]

	code, body = h.admin(http.MethodPost, "/admin/users/u1/refund", map[string]any{"transactionId": usageTx, "reason": "support"})
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 25, body["balanceAfter"])

	code, body = h.admin(http.MethodPost, "/admin/users/u1/refund", map[string]any{"transactionId": usageTx})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ALREADY_REFUNDED", body["code"])

	code, _ = h.admin(http.MethodPut, "/admin/users/u1/plan", map[string]any{"plan": "enterprise"})
	require.Equal(t, http.StatusOK, code)
	code, _ = h.admin(http.MethodPut, "/admin/users/u1/plan", map[string]any{"plan": "gold"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = h.admin(http.MethodGet, "/admin/users/u1/", nil)
	require.Equal(t, http.StatusOK, code)
	account := body["account"].(map[string]any)
	assert.Equal(t, "enterprise", account["planTier"])
	assert.Len(t, body["transactions"], 4)
}

func TestAdminSeesUserGenerations(t *testing.T) {
	h := newHarness(t)
	h.gen.urls = []string{"https://worker/a.png"}

	code, body := h.do(http.MethodPost, "/api/v1/generate/product", "u1", map[string]any{"prompt": "mug"})
	require.Equal(t, http.StatusOK, code)
	genID := body["generationId"].(string)

	code, body = h.admin(http.MethodGet, "/admin/users/u1/", nil)
	require.Equal(t, http.StatusOK, code)
	generations := body["generations"].([]any)
	require.Len(t, generations, 1)
	first := generations[0].(map[string]any)
	assert.Equal(t, genID, first["id"])
	assert.Equal(t, "product", first["generationType"])
	assert.NotNil(t, first["creditTransactionId"])

	code, body = h.admin(http.MethodGet, "/admin/generations/"+genID, nil)
	require.Equal(t, http.StatusOK, code)
	generation := body["generation"].(map[string]any)
	assert.Equal(t, "u1", generation["userId"])
	assert.Equal(t, []any{"https://worker/a.png"}, generation["resultUrls"])

	code, body = h.admin(http.MethodGet, "/admin/generations/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", body["code"])
}

func TestPromoCodesThroughAPI(t *testing.T) {
	h := newHarness(t)

	code, promo := h.admin(http.MethodPost, "/admin/promo-codes/", map[string]any{"code": "launch", "maxUses": 1, "credits": 30})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "LAUNCH", promo["code"])

	code, _ = h.admin(http.MethodPost, "/admin/promo-codes/", map[string]any{"code": "LAUNCH", "maxUses": 1})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := h.do(http.MethodPost, "/api/v1/credits/redeem", "u1", map[string]any{"code": "launch"})
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 40, body["balanceAfter"])

	code, _ = h.do(http.MethodPost, "/api/v1/credits/redeem", "u2", map[string]any{"code": "launch"})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = h.do(http.MethodPost, "/api/v1/credits/redeem", "u1", map[string]any{"code": "missing"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPackagesThroughAPI(t *testing.T) {
	h := newHarness(t)

	code, pkg := h.admin(http.MethodPost, "/admin/packages/", map[string]any{
		"title": "Pro pack", "currency": "USD", "priceMinorUnits": 2500, "credits": 300,
	})
	require.Equal(t, http.StatusCreated, code)
	id := int64(pkg["id"].(float64))

	code, _ = h.admin(http.MethodPut, "/admin/packages/"+itoa(id), map[string]any{"isActive": false})
	require.Equal(t, http.StatusOK, code)

	code, body := h.do(http.MethodGet, "/api/v1/credits/packages", "u1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["packages"])

	code, _ = h.admin(http.MethodPut, "/admin/packages/999", map[string]any{"title": "x"})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = h.admin(http.MethodDelete, "/admin/packages/"+itoa(id), nil)
	assert.Equal(t, http.StatusNoContent, code)

	code, _ = h.admin(http.MethodDelete, "/admin/packages/abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = h.do(http.MethodPost, "/api/v1/credits/checkout", "u1", map[string]any{"packageId": id})
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "CHECKOUT_DISABLED", body["code"])
}

func TestAdminAnalytics(t *testing.T) {
	h := newHarness(t)
	code, _ := h.do(http.MethodPost, "/api/v1/generate/apparel", "u1", map[string]any{"prompt": "tee", "count": 2})
	require.Equal(t, http.StatusOK, code)

	code, body := h.admin(http.MethodGet, "/admin/analytics?days=7&top=5", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 7, body["days"])
	assert.EqualValues(t, 2, body["generations"])
	assert.Len(t, body["daily"], 7)

	code, body = h.do(http.MethodGet, "/api/v1/credits/analytics?days=7", "u1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 4, body["creditsOut"])
}

func TestBroadcastReachesTelegramAccounts(t *testing.T) {
	h := newHarness(t)
	for _, id := range []string{"tg:100", "tg:200", "web-user"} {
		code, _ := h.do(http.MethodGet, "/api/v1/credits/balance", id, nil)
		require.Equal(t, http.StatusOK, code)
	}

	code, body := h.admin(http.MethodPost, "/admin/broadcast", map[string]any{"message": "new styles are live"})
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["sent"])
	assert.ElementsMatch(t, []int64{100, 200}, h.bot.sent)

	code, _ = h.admin(http.MethodPost, "/admin/broadcast", map[string]any{"message": " "})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestYooKassaWebhookErrors(t *testing.T) {
	h := newHarness(t)

	code, _ := h.do(http.MethodPost, "/webhook/yookassa", "", "not json")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(http.MethodPost, "/webhook/yookassa", "", map[string]any{
		"event":  "payment.succeeded",
		"object": map[string]any{"id": "unknown", "status": "succeeded"},
	})
	assert.Equal(t, http.StatusNotFound, code)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
