package rest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"restkit/internal/keyring"
	"restkit/pkg/core"
	"restkit/pkg/decode"
)

type MockProtocol struct {
	name          string
	baseURL       string
	signFunc      func(req *core.Request, creds core.Credentials, now time.Time) error
	parseTimeFunc func(node decode.Node) (time.Time, error)
	mu            sync.Mutex
	signedWith    []string
	signedAt      []time.Time
}

func (m *MockProtocol) Name() string {
	return m.name
}

func (m *MockProtocol) BaseURL(sandbox bool) string {
	return m.baseURL
}

func (m *MockProtocol) Sign(req *core.Request, creds core.Credentials, now time.Time) error {
	m.mu.Lock()
	m.signedWith = append(m.signedWith, creds.APIKey)
	m.signedAt = append(m.signedAt, now)
	m.mu.Unlock()

	if m.signFunc != nil {
		return m.signFunc(req, creds, now)
	}
	req.SetHeader("X-API-KEY", creds.APIKey)
	req.SetQuery("timestamp", now.UnixMilli())
	req.SetQuery("signature", "signed-"+creds.SecretKey)
	return nil
}

func (m *MockProtocol) ServerTimeRequest() *core.Request {
	return core.NewRequest("GET", "/time")
}

func (m *MockProtocol) ParseServerTime(node decode.Node) (time.Time, error) {
	if m.parseTimeFunc != nil {
		return m.parseTimeFunc(node)
	}
	return MillisecondField("serverTime")(node)
}

func (m *MockProtocol) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.signedWith...)
}

type fixedClock struct {
	now time.Time
}

func (f fixedClock) Now() time.Time { return f.now }

type ticker struct {
	Symbol string `json:"symbol"`
	Price  int64  `json:"price"`
}

// testAPI serves /time with a fixed server time and counts hits per path.
type testAPI struct {
	serverTime time.Time
	hits       sync.Map
	handlers   map[string]http.HandlerFunc
}

func newTestAPI(t *testing.T, serverTime time.Time) (*testAPI, *httptest.Server) {
	api := &testAPI{serverTime: serverTime, handlers: map[string]http.HandlerFunc{}}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		counter, _ := api.hits.LoadOrStore(r.URL.Path, new(atomic.Int32))
		counter.(*atomic.Int32).Add(1)

		if h, ok := api.handlers[r.URL.Path]; ok {
			h(w, r)
			return
		}
		switch r.URL.Path {
		case "/time":
			fmt.Fprintf(w, `{"serverTime":%d}`, api.serverTime.UnixMilli())
		case "/ticker":
			w.Write([]byte(`{"symbol":"BTCUSDT","price":42}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return api, server
}

func (a *testAPI) count(path string) int {
	counter, ok := a.hits.Load(path)
	if !ok {
		return 0
	}
	return int(counter.(*atomic.Int32).Load())
}

func testConfig() *core.Config {
	cfg := core.DefaultConfig("test")
	cfg.MaxRetries = 0
	cfg.LogLevel = ""
	return cfg.WithCredentials(&core.Credentials{APIKey: "key-a-1234567890", SecretKey: "secret-a"})
}

func newTestClient(t *testing.T, cfg *core.Config, baseURL string, opts ...Option) (*Client, *MockProtocol) {
	protocol := &MockProtocol{name: "test", baseURL: baseURL}
	client, err := New(cfg, protocol, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, protocol
}

func TestNew(t *testing.T) {
	protocol := &MockProtocol{name: "test", baseURL: "http://localhost"}

	tests := []struct {
		name     string
		config   *core.Config
		protocol Protocol
		wantErr  bool
	}{
		{"valid", testConfig(), protocol, false},
		{"nil_config", nil, protocol, true},
		{"invalid_config", &core.Config{Name: "test"}, protocol, true},
		{"nil_protocol", testConfig(), nil, true},
		{"bad_base_url", testConfig(), &MockProtocol{baseURL: "::not a url"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.config, tt.protocol)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "test", client.Name())
			assert.NoError(t, client.Close())
		})
	}
}

func TestSend_Unsigned(t *testing.T) {
	api, server := newTestAPI(t, time.Now())
	client, _ := newTestClient(t, testConfig(), server.URL)

	res, err := Send[ticker](context.Background(), client, core.NewRequest("GET", "/ticker"))

	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, ticker{Symbol: "BTCUSDT", Price: 42}, res.Data)
	assert.NotZero(t, res.CorrelationID)
	assert.Greater(t, res.ResponseTime, time.Duration(0))
	assert.Empty(t, res.OriginalData)
	assert.Equal(t, int64(1), client.TotalRequests())
	assert.Equal(t, 0, api.count("/time"), "unsigned requests do not sync time")
}

func TestSend_CorrelationIDsIncrease(t *testing.T) {
	_, server := newTestAPI(t, time.Now())
	client, _ := newTestClient(t, testConfig(), server.URL)

	first, err := Send[ticker](context.Background(), client, core.NewRequest("GET", "/ticker"))
	require.NoError(t, err)
	second, err := Send[ticker](context.Background(), client, core.NewRequest("GET", "/ticker"))
	require.NoError(t, err)

	assert.Greater(t, second.CorrelationID, first.CorrelationID)
}

func TestSend_SignedSynchronizesFirst(t *testing.T) {
	serverTime := time.Date(2024, 5, 1, 12, 0, 2, 0, time.UTC)
	local := fixedClock{now: serverTime.Add(-2 * time.Second)}

	api, server := newTestAPI(t, serverTime)
	api.handlers["/account"] = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-a-1234567890", r.Header.Get("X-API-KEY"))
		assert.Equal(t, "signed-secret-a", r.URL.Query().Get("signature"))
		assert.Equal(t, strconv.FormatInt(serverTime.UnixMilli(), 10), r.URL.Query().Get("timestamp"))
		w.Write([]byte(`{"symbol":"ACCOUNT","price":1}`))
	}
	client, protocol := newTestClient(t, testConfig(), server.URL, WithClock(local))

	req := core.NewRequest("GET", "/account").SetSigned(true)
	res, err := Send[ticker](context.Background(), client, req)

	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, 2, api.count("/time"), "the very first request is a warm-up and measured again")
	assert.Equal(t, 2*time.Second, client.Offset())
	assert.Equal(t, serverTime, client.ServerNow())
	assert.Equal(t, []string{"key-a-1234567890"}, protocol.keys())
	assert.Equal(t, int64(3), client.TotalRequests())
	assert.Empty(t, req.Query, "the caller's request is not modified by signing")

	info := client.TimeSyncInfo()
	assert.True(t, info.Enabled)
	assert.True(t, local.now.Equal(info.LastSync))
	assert.False(t, info.Syncing)

	_, err = Send[ticker](context.Background(), client, core.NewRequest("GET", "/account").SetSigned(true))
	require.NoError(t, err)
	assert.Equal(t, 2, api.count("/time"), "offset is reused within the recalculation interval")
}

func TestSend_SignedWithoutWarmUp(t *testing.T) {
	api, server := newTestAPI(t, time.Now())
	api.handlers["/account"] = func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}
	client, _ := newTestClient(t, testConfig(), server.URL)

	_, err := Send[ticker](context.Background(), client, core.NewRequest("GET", "/ticker"))
	require.NoError(t, err)
	_, err = Send[ticker](context.Background(), client, core.NewRequest("GET", "/account").SetSigned(true))
	require.NoError(t, err)

	assert.Equal(t, 1, api.count("/time"))
}

func TestSend_TimeSyncDisabled(t *testing.T) {
	api, server := newTestAPI(t, time.Now())
	api.handlers["/account"] = func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}
	client, _ := newTestClient(t, testConfig().WithTimeSync(false, 0), server.URL)

	_, err := Send[ticker](context.Background(), client, core.NewRequest("GET", "/account").SetSigned(true))

	require.NoError(t, err)
	assert.Equal(t, 0, api.count("/time"))
	assert.Zero(t, client.Offset())
	assert.True(t, client.TimeSyncInfo().LastSync.IsZero())
}

func TestSend_InitialTimeSyncFailure(t *testing.T) {
	api, server := newTestAPI(t, time.Now())
	api.handlers["/time"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	client, _ := newTestClient(t, testConfig(), server.URL)

	_, err := Send[ticker](context.Background(), client, core.NewRequest("GET", "/account").SetSigned(true))

	require.Error(t, err)
	assert.True(t, core.IsTimeSyncError(err))
	var apiErr *core.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, core.ErrorTypeServerError, apiErr.Type)
	assert.Equal(t, 0, api.count("/account"))
	assert.False(t, client.TimeSyncInfo().Syncing)
}

func TestSend_SignedWithoutCredentials(t *testing.T) {
	api, server := newTestAPI(t, time.Now())
	cfg := testConfig().WithCredentials(nil).WithTimeSync(false, 0)
	client, _ := newTestClient(t, cfg, server.URL)

	_, err := Send[ticker](context.Background(), client, core.NewRequest("GET", "/account").SetSigned(true))

	assert.ErrorIs(t, err, core.ErrNoCredentials)
	assert.Equal(t, 0, api.count("/account"))
}

func TestSend_SignError(t *testing.T) {
	_, server := newTestAPI(t, time.Now())
	client, protocol := newTestClient(t, testConfig().WithTimeSync(false, 0), server.URL)
	protocol.signFunc = func(*core.Request, core.Credentials, time.Time) error {
		return errors.New("bad secret")
	}

	_, err := Send[ticker](context.Background(), client, core.NewRequest("GET", "/account").SetSigned(true))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "sign request")
}

func TestSend_APIError(t *testing.T) {
	api, server := newTestAPI(t, time.Now())
	api.handlers["/order"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}
	client, _ := newTestClient(t, testConfig(), server.URL)

	res, err := Send[ticker](context.Background(), client, core.NewRequest("POST", "/order"))

	require.Error(t, err)
	var apiErr *core.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, core.ErrorTypeBadRequest, apiErr.Type)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "-1121", apiErr.Code)
	assert.Equal(t, "Invalid symbol.", apiErr.Message)
	assert.Equal(t, "test", apiErr.API)
	assert.Equal(t, res.CorrelationID, apiErr.RequestID)
}

func TestSend_APIErrorPlainBody(t *testing.T) {
	api, server := newTestAPI(t, time.Now())
	api.handlers["/gone"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream unavailable\n"))
	}
	client, _ := newTestClient(t, testConfig(), server.URL)

	_, err := Send[ticker](context.Background(), client, core.NewRequest("GET", "/gone"))

	var apiErr *core.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, core.ErrorTypeServerError, apiErr.Type)
	assert.Equal(t, "upstream unavailable", apiErr.Message)
}

func TestSend_DecodeFailure(t *testing.T) {
	api, server := newTestAPI(t, time.Now())
	api.handlers["/broken"] = func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{invalid"))
	}

	t.Run("buffered", func(t *testing.T) {
		cfg := testConfig()
		cfg.BufferResponseBodies = true
		client, _ := newTestClient(t, cfg, server.URL)

		res, err := Send[ticker](context.Background(), client, core.NewRequest("GET", "/broken"))

		require.NoError(t, err)
		require.False(t, res.OK())
		assert.Equal(t, core.KindMalformedSyntax, res.Err.Kind)
		assert.Equal(t, "{invalid", res.Err.Raw)
		assert.Equal(t, res.CorrelationID, res.Err.CorrelationID)
	})

	t.Run("streamed", func(t *testing.T) {
		client, _ := newTestClient(t, testConfig(), server.URL)

		res, err := Send[ticker](context.Background(), client, core.NewRequest("GET", "/broken"))

		require.NoError(t, err)
		require.False(t, res.OK())
		assert.NotEqual(t, core.KindEmptyBody, res.Err.Kind)
		assert.Contains(t, res.Err.Message, fmt.Sprintf("[%d] ", res.CorrelationID))
	})
}

func TestSend_EmptyBody(t *testing.T) {
	api, server := newTestAPI(t, time.Now())
	api.handlers["/empty"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
	client, _ := newTestClient(t, testConfig(), server.URL)

	res, err := Send[ticker](context.Background(), client, core.NewRequest("GET", "/empty"))

	require.NoError(t, err)
	require.False(t, res.OK())
	assert.Equal(t, core.KindEmptyBody, res.Err.Kind)
}

func TestSend_OutputOriginalData(t *testing.T) {
	_, server := newTestAPI(t, time.Now())
	client, _ := newTestClient(t, testConfig().WithOutputOriginalData(true), server.URL)

	res, err := Send[ticker](context.Background(), client, core.NewRequest("GET", "/ticker"))

	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, `{"symbol":"BTCUSDT","price":42}`, res.OriginalData)
}

func TestSend_RateLimitFail(t *testing.T) {
	api, server := newTestAPI(t, time.Now())
	cfg := testConfig().WithRateLimit(1, time.Minute, core.OverflowFail)
	client, _ := newTestClient(t, cfg, server.URL)

	_, err := Send[ticker](context.Background(), client, core.NewRequest("GET", "/ticker"))
	require.NoError(t, err)

	start := time.Now()
	_, err = Send[ticker](context.Background(), client, core.NewRequest("GET", "/ticker"))

	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.ErrorIs(t, err, core.ErrQuotaExceeded)
	assert.True(t, core.IsRateLimitError(err))
	assert.Equal(t, 1, api.count("/ticker"))
	assert.Equal(t, int64(1), client.TotalRequests(), "rejected requests are not counted")
}

func TestSend_RequestOverflowOverride(t *testing.T) {
	_, server := newTestAPI(t, time.Now())
	cfg := testConfig().WithRateLimit(1, 100*time.Millisecond, core.OverflowFail)
	client, _ := newTestClient(t, cfg, server.URL)

	_, err := Send[ticker](context.Background(), client, core.NewRequest("GET", "/ticker"))
	require.NoError(t, err)

	res, err := Send[ticker](context.Background(), client, core.NewRequest("GET", "/ticker").SetOverflow(core.OverflowWait))

	require.NoError(t, err)
	assert.True(t, res.OK())
}

func TestSend_EndpointRateLimit(t *testing.T) {
	_, server := newTestAPI(t, time.Now())
	cfg := testConfig().WithRateLimit(100, time.Minute, core.OverflowFail)
	client, _ := newTestClient(t, cfg, server.URL, WithRateLimits(RateLimit{
		Name:     "ticker",
		Scope:    ScopeEndpoint,
		Requests: 1,
		Period:   time.Minute,
		Prefix:   "/ticker",
	}))

	_, err := Send[ticker](context.Background(), client, core.NewRequest("GET", "/ticker"))
	require.NoError(t, err)
	_, err = Send[ticker](context.Background(), client, core.NewRequest("GET", "/ticker"))
	assert.ErrorIs(t, err, core.ErrQuotaExceeded)

	_, err = Send[struct{}](context.Background(), client, core.NewRequest("GET", "/time"))
	assert.NoError(t, err)
}

type gateFunc func(ctx context.Context, req core.AdmitRequest) (time.Duration, error)

func (f gateFunc) Admit(ctx context.Context, req core.AdmitRequest) (time.Duration, error) {
	return f(ctx, req)
}

func TestSend_CustomGate(t *testing.T) {
	_, server := newTestAPI(t, time.Now())
	var seen []core.AdmitRequest
	gate := gateFunc(func(_ context.Context, req core.AdmitRequest) (time.Duration, error) {
		seen = append(seen, req)
		return 0, nil
	})
	client, _ := newTestClient(t, testConfig().WithTimeSync(false, 0), server.URL, WithGate(gate))

	req := core.NewRequest("GET", "/ticker").SetWeight(5).SetSigned(true)
	_, err := Send[ticker](context.Background(), client, req)
	require.NoError(t, err)

	require.Len(t, seen, 1)
	assert.Equal(t, "/ticker", seen[0].Endpoint)
	assert.Equal(t, 5, seen[0].Weight)
	assert.True(t, seen[0].Signed)
	assert.Equal(t, testConfig().Credentials.Identity(), seen[0].Identity)
	assert.Equal(t, core.OverflowWait, seen[0].Overflow)
}

func TestSend_CircuitBreaker(t *testing.T) {
	api, server := newTestAPI(t, time.Now())
	api.handlers["/flaky"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	cfg := testConfig().WithCircuitBreaker(true, 2, 1, time.Minute)
	client, _ := newTestClient(t, cfg, server.URL)

	for i := 0; i < 2; i++ {
		_, err := Send[ticker](context.Background(), client, core.NewRequest("GET", "/flaky"))
		require.Error(t, err)
	}

	_, err := Send[ticker](context.Background(), client, core.NewRequest("GET", "/ticker"))

	assert.ErrorIs(t, err, core.ErrCircuitOpen)
	assert.Equal(t, 0, api.count("/ticker"))
}

func TestSend_KeyRotation(t *testing.T) {
	api, server := newTestAPI(t, time.Now())
	api.handlers["/account"] = func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-KEY") == "key-a" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"code":-2015,"msg":"Invalid API-key"}`))
			return
		}
		w.Write([]byte(`{}`))
	}
	ring := keyring.New([]keyring.Key{
		{ID: "a", Credentials: core.Credentials{APIKey: "key-a", SecretKey: "s-a"}},
		{ID: "b", Credentials: core.Credentials{APIKey: "key-b", SecretKey: "s-b"}},
	}, keyring.RotationOnError)
	client, protocol := newTestClient(t, testConfig().WithTimeSync(false, 0), server.URL, WithCredentialSource(ring))

	_, err := Send[ticker](context.Background(), client, core.NewRequest("GET", "/account").SetSigned(true))
	require.True(t, core.IsAuthenticationError(err))

	_, err = Send[ticker](context.Background(), client, core.NewRequest("GET", "/account").SetSigned(true))
	require.NoError(t, err)

	assert.Equal(t, []string{"key-a", "key-b"}, protocol.keys())
}

func TestClient_SyncTime(t *testing.T) {
	serverTime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	_, server := newTestAPI(t, serverTime)
	client, _ := newTestClient(t, testConfig(), server.URL, WithClock(fixedClock{now: serverTime.Add(300 * time.Millisecond)}))

	ok, err := client.SyncTime(context.Background())

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, -300*time.Millisecond, client.Offset())
}

func TestClient_SyncTime_BadPayload(t *testing.T) {
	api, server := newTestAPI(t, time.Now())
	api.handlers["/time"] = func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"serverTime":"soon"}`))
	}
	client, _ := newTestClient(t, testConfig(), server.URL)

	ok, err := client.SyncTime(context.Background())

	assert.False(t, ok)
	assert.True(t, core.IsTimeSyncError(err))
	assert.Contains(t, err.Error(), "serverTime")
	assert.Zero(t, client.Offset())
}

func TestClient_SharedTimeSync(t *testing.T) {
	serverTime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	api, server := newTestAPI(t, serverTime)
	clock := WithClock(fixedClock{now: serverTime.Add(-time.Second)})
	first, _ := newTestClient(t, testConfig(), server.URL, clock)
	second, _ := newTestClient(t, testConfig(), server.URL, clock, WithSharedTimeSync(first))

	_, err := first.SyncTime(context.Background())
	require.NoError(t, err)
	hits := api.count("/time")

	assert.Equal(t, time.Second, second.Offset())
	ok, err := second.SyncTime(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, hits, api.count("/time"), "the shared offset is still fresh")
}

func TestClient_ConcurrentSignedRequests(t *testing.T) {
	api, server := newTestAPI(t, time.Now())
	api.handlers["/account"] = func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}
	client, _ := newTestClient(t, testConfig(), server.URL)

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := Send[ticker](context.Background(), client, core.NewRequest("GET", "/account").SetSigned(true))
			return err
		})
	}

	require.NoError(t, g.Wait())
	assert.Equal(t, 20, api.count("/account"))
	assert.GreaterOrEqual(t, api.count("/time"), 1)
	assert.LessOrEqual(t, api.count("/time"), 2, "only one synchronization runs at a time")
}

func TestClient_Close(t *testing.T) {
	_, server := newTestAPI(t, time.Now())
	client, _ := newTestClient(t, testConfig(), server.URL)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	_, err := Send[ticker](context.Background(), client, core.NewRequest("GET", "/ticker"))
	assert.ErrorIs(t, err, core.ErrClientClosed)

	_, err = client.SyncTime(context.Background())
	assert.ErrorIs(t, err, core.ErrClientClosed)
}

func TestDo(t *testing.T) {
	api, server := newTestAPI(t, time.Now())
	api.handlers["/broken"] = func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":7}`))
	}
	client, _ := newTestClient(t, testConfig(), server.URL)

	tk, err := Do[ticker](context.Background(), client, core.NewRequest("GET", "/ticker"))
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", tk.Symbol)

	_, err = Do[ticker](context.Background(), client, core.NewRequest("GET", "/broken"))
	assert.True(t, core.IsDeserializeError(err))
}

func TestMillisecondField(t *testing.T) {
	parse := MillisecondField("data.ts")
	d := decode.New()

	tree := d.DecodeText([]byte(`{"data":{"ts":1700000000123}}`))
	require.True(t, tree.OK())
	got, err := parse(tree.Data)
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1700000000123), got)

	quoted := d.DecodeText([]byte(`{"data":{"ts":"1700000000123"}}`))
	got, err = parse(quoted.Data)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000123), got.UnixMilli())

	missing := d.DecodeText([]byte(`{"data":{}}`))
	_, err = parse(missing.Data)
	assert.Error(t, err)
}

func TestNew_LeavesGlobalLogLevel(t *testing.T) {
	before := zerolog.GlobalLevel()
	cfg := testConfig()
	cfg.LogLevel = "trace"

	client, err := New(cfg, &MockProtocol{name: "test", baseURL: "http://localhost"}, WithLogger(zerolog.New(io.Discard)))
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, before, zerolog.GlobalLevel())
	assert.Equal(t, zerolog.TraceLevel, client.logger.GetLevel())
}
