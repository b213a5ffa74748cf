package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/blobstore"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/db"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/ledger"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/middleware"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/service"
)

func TestMain(m *testing.M) {
	InitMetrics(prometheus.NewRegistry(), nil)
	middleware.Logger = zerolog.Nop()
	os.Exit(m.Run())
}

type testEnv struct {
	app *fiber.App
	p   *service.Protocol
	bus *service.EventBus
}

func newTestEnv(t *testing.T, accounts ...string) *testEnv {
	t.Helper()
	bdb, err := db.OpenBadgerInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = bdb.Close() })

	settings := service.DefaultSettings()
	settings.VotingDuration = time.Hour
	settings.Params.MinStake = 5
	settings.Params.QuorumPercent = 5

	bus := service.NewEventBus(64)
	p := service.NewProtocol(ledger.NewMemoryJournal(), blobstore.NewBadgerStore(bdb), settings,
		service.WithEvents(bus),
		service.WithLogger(zerolog.Nop()))
	for _, a := range accounts {
		_, err := p.OptIn(context.Background(), a)
		require.NoError(t, err)
	}

	cache := service.NewCacheService("", zerolog.Nop())
	claims := service.NewClaimService(p, cache, nil)
	markets := service.NewMarketService(p, cache)

	ch := NewClaimHandler(p, claims)
	vh := NewValidationHandler(p, claims)
	mh := NewMarketHandler(p, markets)
	ah := NewAccountHandler(p, service.NewAccountService(p, cache, nil), markets)
	admin := NewAdminHandler(p)

	app := fiber.New()
	app.Use(MetricsMiddleware())
	api := app.Group("/api")
	api.Post("/accounts", ah.OptIn)
	api.Get("/accounts/:address", ah.Get)
	api.Get("/accounts/:address/positions", ah.Positions)
	api.Post("/claims", ch.Submit)
	api.Get("/claims", ch.List)
	api.Get("/claims/:claimId", ch.Get)
	api.Get("/claims/:claimId/content", ch.Content)
	api.Get("/claims/:claimId/round", vh.Round)
	api.Post("/claims/:claimId/votes", vh.Vote)
	api.Post("/claims/:claimId/resolve", vh.Resolve)
	api.Get("/validations/pending", vh.Pending)
	api.Get("/params", vh.Params)
	api.Post("/markets", mh.Create)
	api.Get("/markets", mh.List)
	api.Get("/markets/:marketId", mh.Get)
	api.Post("/markets/:marketId/bets", mh.Bet)
	api.Post("/admin/mint", admin.Mint)
	api.Put("/admin/params", admin.UpdateParams)

	return &testEnv{app: app, p: p, bus: bus}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		r = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, path, r)
	if r != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func validClaim() map[string]any {
	return map[string]any{
		"title":        "Light travels at roughly 300,000 km/s",
		"content":      "The speed of light in vacuum is exactly 299,792,458 metres per second.",
		"category":     "science",
		"evidenceUrls": []string{"https://physics.nist.gov/cgi-bin/cuu/Value?c"},
		"submitter":    "alice",
	}
}

func (e *testEnv) submitClaim(t *testing.T) uint64 {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/claims", validClaim())
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, body)
	return uint64(body["claimId"].(float64))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind model.ErrorKind
		want int
	}{
		{model.KindNotFound, 404},
		{model.KindInvalidInput, 400},
		{model.KindStateConflict, 409},
		{model.KindInsufficientResource, 422},
		{model.KindSubmissionFailed, 503},
		{model.KindInternal, 500},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.kind))
		})
	}
}

func TestWriteError(t *testing.T) {
	app := fiber.New()
	app.Get("/typed", func(c fiber.Ctx) error {
		return writeError(c, model.ErrMarketClosed.With("market 3 is closed"), "fallback")
	})
	app.Get("/untyped", func(c fiber.Ctx) error {
		return writeError(c, errors.New("disk on fire"), "Something failed")
	})

	tests := []struct {
		path     string
		status   int
		code     string
		contains string
	}{
		{"/typed", 409, "MARKET_CLOSED", "market 3 is closed"},
		{"/untyped", 500, "INTERNAL_ERROR", "Something failed"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.NoError(t, err)
			defer resp.Body.Close()
			var body map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, errorCode(body))
			msg := body["error"].(map[string]any)["message"].(string)
			assert.Contains(t, msg, tt.contains)
			assert.NotContains(t, msg, "disk on fire")
		})
	}
}

func TestClaimSubmitAndGet(t *testing.T) {
	env := newTestEnv(t)
	id := env.submitClaim(t)

	resp, body := env.do(t, http.MethodGet, "/api/claims/1", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	assert.Equal(t, float64(id), body["id"])
	assert.Equal(t, "VALIDATING", body["status"])
	assert.NotNil(t, body["round"])

	resp, _ = env.do(t, http.MethodGet, "/api/claims/1", nil)
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))

	resp, body = env.do(t, http.MethodGet, "/api/claims/1/content", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "science", body["category"])
}

func TestClaimSubmitSubmitterFromHeader(t *testing.T) {
	env := newTestEnv(t)
	claim := validClaim()
	delete(claim, "submitter")

	raw, _ := json.Marshal(claim)
	req := httptest.NewRequest(http.MethodPost, "/api/claims", strings.NewReader(string(raw)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.AccountHeader, "carol")
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	c, err := env.p.Claims.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "carol", c.Submitter)
}

func TestClaimSubmitRejections(t *testing.T) {
	env := newTestEnv(t)

	short := validClaim()
	short["title"] = "too short"
	badCategory := validClaim()
	badCategory["category"] = "astrology"
	badURL := validClaim()
	badURL["evidenceUrls"] = []string{"not a url"}

	tests := []struct {
		name string
		body any
		code string
	}{
		{"malformed json", "{", "INVALID_BODY"},
		{"short title", short, "INVALID_FIELD"},
		{"unknown category", badCategory, "INVALID_FIELD"},
		{"bad evidence url", badURL, "INVALID_FIELD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/api/claims", tt.body)
			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.code, errorCode(body))
		})
	}
	_, total := env.p.Claims.List(model.ClaimFilter{Limit: 10})
	assert.Zero(t, total)
}

func TestClaimLookupErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		path   string
		status int
		code   string
	}{
		{"/api/claims/abc", 400, "INVALID_FIELD"},
		{"/api/claims/0", 400, "INVALID_FIELD"},
		{"/api/claims/42", 404, "CLAIM_NOT_FOUND"},
		{"/api/claims?status=MAYBE", 400, "INVALID_FIELD"},
		{"/api/markets/7", 404, "MARKET_NOT_FOUND"},
		{"/api/markets?status=pending", 400, "INVALID_FIELD"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, body := env.do(t, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, errorCode(body))
		})
	}
}

func TestClaimList(t *testing.T) {
	env := newTestEnv(t)
	env.submitClaim(t)
	env.submitClaim(t)

	resp, body := env.do(t, http.MethodGet, "/api/claims?category=science&limit=1", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["total"])
	assert.Len(t, body["claims"], 1)

	_, body = env.do(t, http.MethodGet, "/api/claims?category=politics", nil)
	assert.Equal(t, float64(0), body["total"])
	assert.Equal(t, []any{}, body["claims"])
}

func TestVoteAndResolve(t *testing.T) {
	env := newTestEnv(t, "a", "b", "c")
	id := env.submitClaim(t)
	require.Equal(t, uint64(1), id)

	votes := []struct {
		voter, voteType string
		stake           int64
	}{
		{"a", "VERIFY", 50},
		{"b", "VERIFY", 30},
		{"c", "DISPUTE", 20},
	}
	for _, v := range votes {
		resp, body := env.do(t, http.MethodPost, "/api/claims/1/votes", map[string]any{
			"voter": v.voter, "voteType": v.voteType, "stake": v.stake,
		})
		require.Equal(t, fiber.StatusCreated, resp.StatusCode, body)
		assert.Equal(t, v.voteType, body["voteType"])
	}

	resp, body := env.do(t, http.MethodGet, "/api/claims/1/round", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["open"])
	assert.Len(t, body["votes"], 3)
	tally := body["tally"].(map[string]any)
	assert.Equal(t, float64(100), tally["totalStake"])

	resp, body = env.do(t, http.MethodPost, "/api/claims/1/resolve", nil)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, "TOO_EARLY", errorCode(body))
}

func TestVoteRejections(t *testing.T) {
	env := newTestEnv(t, "a", "poor")
	env.submitClaim(t)

	_, err := env.p.CastVote(context.Background(), 1, "a", model.VoteVerify, 10)
	require.NoError(t, err)

	tests := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{"bad vote type", map[string]any{"voter": "poor", "voteType": "MAYBE", "stake": 10}, 400, "INVALID_FIELD"},
		{"zero stake", map[string]any{"voter": "poor", "voteType": "VERIFY", "stake": 0}, 400, "INVALID_FIELD"},
		{"not opted in", map[string]any{"voter": "ghost", "voteType": "VERIFY", "stake": 10}, 404, "NOT_OPTED_IN"},
		{"below minimum", map[string]any{"voter": "poor", "voteType": "VERIFY", "stake": 1}, 422, "STAKE_BELOW_MINIMUM"},
		{"above maximum", map[string]any{"voter": "poor", "voteType": "VERIFY", "stake": 500}, 400, "STAKE_ABOVE_MAXIMUM"},
		{"duplicate", map[string]any{"voter": "a", "voteType": "DISPUTE", "stake": 10}, 409, "ALREADY_VOTED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/api/claims/1/votes", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, errorCode(body))
		})
	}
}

func TestPendingAndParams(t *testing.T) {
	env := newTestEnv(t, "a")
	env.submitClaim(t)

	resp, body := env.do(t, http.MethodGet, "/api/validations/pending?address=a", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])
	pending := body["pending"].([]any)[0].(map[string]any)
	assert.Equal(t, true, pending["userCanVote"])

	resp, body = env.do(t, http.MethodGet, "/api/validations/pending?address=bad%20addr", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_FIELD", errorCode(body))

	_, body = env.do(t, http.MethodGet, "/api/params", nil)
	assert.Equal(t, float64(5), body["minStake"])
	assert.Equal(t, float64(5), body["quorumPercentage"])
	limits := body["marketLimits"].(map[string]any)
	assert.Equal(t, float64(100), limits["minLiquidity"])
}

func TestMarketFlow(t *testing.T) {
	env := newTestEnv(t)
	env.submitClaim(t)

	resp, body := env.do(t, http.MethodPost, "/api/markets", map[string]any{
		"claimId": 1, "initialLiquidity": 100, "durationHours": 2,
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, 0.5, body["yesPrice"])
	assert.Equal(t, "open", body["status"])

	resp, body = env.do(t, http.MethodPost, "/api/markets", map[string]any{
		"claimId": 1, "initialLiquidity": 100,
	})
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, "MARKET_ALREADY_EXISTS", errorCode(body))

	resp, body = env.do(t, http.MethodPost, "/api/markets/1/bets", map[string]any{
		"account": "d", "side": "YES", "amount": 100,
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, body)
	assert.Greater(t, body["sharesBought"].(float64), 0.0)

	resp, body = env.do(t, http.MethodPost, "/api/markets/1/bets", map[string]any{
		"account": "d", "side": "MAYBE", "amount": 100,
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/api/markets/1", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Greater(t, body["yesPrice"].(float64), 0.5)

	_, body = env.do(t, http.MethodGet, "/api/markets?status=open", nil)
	assert.Equal(t, float64(1), body["total"])
	_, body = env.do(t, http.MethodGet, "/api/markets?status=resolved", nil)
	assert.Equal(t, float64(0), body["total"])

	_, body = env.do(t, http.MethodGet, "/api/accounts/d/positions", nil)
	assert.Equal(t, float64(1), body["count"])
}

func TestAccountRoutes(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/accounts", map[string]any{"address": "zoe"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, float64(100), body["reputationBalance"])

	resp, body = env.do(t, http.MethodPost, "/api/accounts", map[string]any{"address": "no spaces!"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_FIELD", errorCode(body))

	resp, body = env.do(t, http.MethodGet, "/api/accounts/zoe", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(100), body["availableBalance"])
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))

	resp, body = env.do(t, http.MethodGet, "/api/accounts/nobody", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_OPTED_IN", errorCode(body))
}

func TestAdminHandlers(t *testing.T) {
	env := newTestEnv(t, "a")

	resp, body := env.do(t, http.MethodPost, "/api/admin/mint", map[string]any{"address": "a", "amount": 50})
	require.Equal(t, fiber.StatusOK, resp.StatusCode, body)
	assert.Equal(t, float64(150), body["reputationBalance"])

	params := model.DefaultParams()
	params.MinStake = 20
	resp, body = env.do(t, http.MethodPut, "/api/admin/params", params)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, body)
	assert.Equal(t, float64(20), body["minStake"])

	params.MinStake = params.MaxStake + 1
	resp, body = env.do(t, http.MethodPut, "/api/admin/params", params)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_PARAMS", errorCode(body))
}

func TestSanitizeEndpoint(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/claims/12", "/api/claims/:claimId"},
		{"/api/claims/12/votes", "/api/claims/:claimId/votes"},
		{"/api/markets/3/bets", "/api/markets/:marketId/bets"},
		{"/api/accounts/alice/positions", "/api/accounts/:address/positions"},
		{"/api/stats", "/api/stats"},
		{"/health/live", "/health/live"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeEndpoint(tt.path))
		})
	}
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealth(t *testing.T) {
	tests := []struct {
		name    string
		journal Pinger
		status  int
		overall string
	}{
		{"no dependencies", nil, 200, "healthy"},
		{"journal up", stubPinger{}, 200, "healthy"},
		{"journal down", stubPinger{err: errors.New("refused")}, 503, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(nil, nil, tt.journal, "test")
			app := fiber.New()
			app.Get("/health/live", h.Live)
			app.Get("/health/ready", h.Ready)

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health/live", nil))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, 200, resp.StatusCode)

			resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			require.NoError(t, err)
			defer resp.Body.Close()
			var body map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.overall, body["status"])
			checks := body["checks"].(map[string]any)
			assert.Equal(t, "disabled", checks["database"].(map[string]any)["status"])
			assert.Equal(t, "disabled", checks["redis"].(map[string]any)["status"])
		})
	}
}

func TestParseTypes(t *testing.T) {
	assert.Nil(t, parseTypes(""))
	assert.Equal(t, map[string]bool{"vote_cast": true, "bet_placed": true},
		parseTypes("vote_cast, bet_placed,,"))
}

func TestStreamDeliversFilteredEvents(t *testing.T) {
	bus := service.NewEventBus(16)
	hub := NewStreamHub(bus, "*", "salt", zerolog.Nop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?types=" + service.EventVoteCast
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	bus.Publish(service.EventClaimSubmitted, map[string]any{"claimId": 1})
	bus.Publish(service.EventVoteCast, map[string]any{"claimId": 1, "voter": "a"})

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	require.NoError(t, ws.ReadJSON(&ev))
	assert.Equal(t, service.EventVoteCast, ev.Type)
	assert.Equal(t, "a", ev.Data["voter"])
}

func TestStreamRejectsForeignOrigin(t *testing.T) {
	hub := NewStreamHub(service.NewEventBus(4), "https://defacto.example", "salt", zerolog.Nop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
