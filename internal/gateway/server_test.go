package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/authgate/internal/config"
	"github.com/nao1215/authgate/internal/metrics"
	"github.com/nao1215/authgate/internal/session"
	"github.com/nao1215/authgate/internal/token"
	"github.com/nao1215/authgate/internal/userdir"
	"github.com/nao1215/authgate/pkg/httpclient"
	"github.com/nao1215/authgate/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	// testJWTSecret はテスト用のJWT署名秘密鍵。
	testJWTSecret = "test-secret-key"
	// testCookieName はテスト用のセッションCookie名。
	testCookieName = "auth.sid"
)

// fakeRegistrar はテスト用のユーザーディレクトリ。
type fakeRegistrar struct {
	mu       sync.Mutex
	user     *userdir.UserRecord
	calls    []userdir.LoginRequest
	reqIDs   []string
	response func(req userdir.LoginRequest) *userdir.UserRecord
}

func (f *fakeRegistrar) CreateOrFetch(ctx context.Context, req userdir.LoginRequest) *userdir.UserRecord {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, req)
	id, _ := httpclient.RequestIDFromContext(ctx)
	f.reqIDs = append(f.reqIDs, id)
	if f.response != nil {
		return f.response(req)
	}
	return f.user
}

func (f *fakeRegistrar) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// faultyStore は指定した操作だけ失敗させるストア。
type faultyStore struct {
	session.Store
	getErr     error
	destroyErr error
	setErr     error
}

func (s *faultyStore) Get(ctx context.Context, id string) (*session.Data, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.Store.Get(ctx, id)
}

func (s *faultyStore) Set(ctx context.Context, id string, data *session.Data, ttl time.Duration) error {
	if s.setErr != nil {
		return s.setErr
	}
	return s.Store.Set(ctx, id, data, ttl)
}

func (s *faultyStore) Destroy(ctx context.Context, id string) error {
	if s.destroyErr != nil {
		return s.destroyErr
	}
	return s.Store.Destroy(ctx, id)
}

// testEnv はテスト用Gatewayサーバーと依存物の組。
type testEnv struct {
	server   *Server
	store    session.Store
	memory   *session.MemoryStore
	users    *fakeRegistrar
	codec    *token.Codec
	registry *prometheus.Registry
	model    *httptest.Server
	payment  *httptest.Server
}

// testOption はテスト環境の設定を変更する。
type testOption func(*testConfig)

type testConfig struct {
	store        func(*session.MemoryStore) session.Store
	loginLimiter *middleware.RateLimiter
	modelURL     string
	paymentURL   string
	trusted      []string
}

func withStore(wrap func(*session.MemoryStore) session.Store) testOption {
	return func(c *testConfig) { c.store = wrap }
}

func withLoginLimiter(rl *middleware.RateLimiter) testOption {
	return func(c *testConfig) { c.loginLimiter = rl }
}

func withTrustedProxies(proxies ...string) testOption {
	return func(c *testConfig) { c.trusted = proxies }
}

func withUpstreams(modelURL, paymentURL string) testOption {
	return func(c *testConfig) {
		c.modelURL = modelURL
		c.paymentURL = paymentURL
	}
}

// echoBackend は受け取ったリクエストをJSONで返すモック上流サービス。
func echoBackend(t *testing.T) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Backend", "echo")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(echoedRequest{
			Method:        r.Method,
			Path:          r.URL.Path,
			RawQuery:      r.URL.RawQuery,
			Host:          r.Host,
			Authorization: r.Header.Get("Authorization"),
			HasAuth:       len(r.Header.Values("Authorization")) > 0,
			RequestID:     r.Header.Get(httpclient.HeaderRequestID),
			Body:          string(body),
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

// echoedRequest はechoBackendが返すリクエスト情報。
type echoedRequest struct {
	Method        string `json:"method"`
	Path          string `json:"path"`
	RawQuery      string `json:"raw_query"`
	Host          string `json:"host"`
	Authorization string `json:"authorization"`
	HasAuth       bool   `json:"has_auth"`
	RequestID     string `json:"request_id"`
	Body          string `json:"body"`
}

// newTestEnv はテスト用のGatewayサーバーを生成する。
// セッションストアはインメモリ、上流サービスはechoBackendを使う。
func newTestEnv(t *testing.T, opts ...testOption) *testEnv {
	t.Helper()

	env := &testEnv{
		memory: session.NewMemoryStore(),
		users: &fakeRegistrar{
			user: &userdir.UserRecord{ID: "42", Username: "alice", Email: "a@x.com", AvatarURI: "u"},
		},
		registry: prometheus.NewRegistry(),
	}
	env.model = echoBackend(t)
	env.payment = echoBackend(t)

	tc := testConfig{modelURL: env.model.URL, paymentURL: env.payment.URL}
	for _, opt := range opts {
		opt(&tc)
	}
	env.store = env.memory
	if tc.store != nil {
		env.store = tc.store(env.memory)
	}

	sessions, err := session.NewManager(env.store, session.Options{
		CookieName: testCookieName,
		Secret:     "session-secret",
		MaxAge:     time.Hour,
	})
	if err != nil {
		t.Fatalf("NewManager()でエラーが発生: %v", err)
	}
	env.codec, err = token.NewCodec(testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewCodec()でエラーが発生: %v", err)
	}

	cfg := &config.Config{
		Version:          "1.2.3",
		ServerURL:        tc.modelURL,
		PaymentServerURL: tc.paymentURL,
		CORSOrigins:      []string{"http://localhost:3000"},
		TrustedProxies:   tc.trusted,
	}
	env.server, err = NewServer(cfg, Deps{
		Sessions:     sessions,
		Codec:        env.codec,
		Users:        env.users,
		Recorder:     metrics.NewCollector(env.registry),
		Gatherer:     env.registry,
		LoginLimiter: tc.loginLimiter,
	})
	if err != nil {
		t.Fatalf("NewServer()でエラーが発生: %v", err)
	}
	return env
}

// closeNotifyRecorder はhttp.CloseNotifierを実装したResponseRecorder。
// ReverseProxyはリクエストのコンテキストにDoneが無い場合にCloseNotifyを呼ぶ。
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
}

func (closeNotifyRecorder) CloseNotify() <-chan bool {
	return make(chan bool)
}

// do はリクエストを実行してレスポンスを返す。
func (e *testEnv) do(method, path, body string, cookies []*http.Cookie, headers ...string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	w := httptest.NewRecorder()
	e.server.router.ServeHTTP(closeNotifyRecorder{ResponseRecorder: w}, req)
	return w
}

// login はaliceでログインしてセッションCookieを返す。
func (e *testEnv) login(t *testing.T) []*http.Cookie {
	t.Helper()

	w := e.do(http.MethodPost, "/login", `{"username":"alice","email":"a@x.com","avatar_uri":"u"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ログイン: ステータスコード = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("ログインでCookieが発行されていない")
	}
	return cookies
}

// decodeBody はレスポンスボディをmapにデコードする。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("レスポンスボディのパースに失敗: %v, body = %s", err, w.Body.String())
	}
	return body
}

// decodeEcho はechoBackendのレスポンスをデコードする。
func decodeEcho(t *testing.T, w *httptest.ResponseRecorder) echoedRequest {
	t.Helper()

	var got echoedRequest
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("上流レスポンスのパースに失敗: %v, body = %s", err, w.Body.String())
	}
	return got
}

// TestNewServer はNewServerの入力検証を確認する。
func TestNewServer(t *testing.T) {
	t.Parallel()

	t.Run("必須の依存が無い場合はエラーになること", func(t *testing.T) {
		t.Parallel()

		cfg := &config.Config{ServerURL: "http://model", PaymentServerURL: "http://payment"}
		if _, err := NewServer(cfg, Deps{}); err == nil {
			t.Error("NewServer()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("上流URLが不正な場合はエラーになること", func(t *testing.T) {
		t.Parallel()

		base := newTestEnv(t)
		for _, tc := range []struct{ model, payment string }{
			{model: "not a url", payment: "http://payment"},
			{model: "http://model", payment: "/relative"},
		} {
			cfg := &config.Config{ServerURL: tc.model, PaymentServerURL: tc.payment}
			_, err := NewServer(cfg, Deps{Sessions: base.server.sessions, Codec: base.codec, Users: base.users})
			if err == nil {
				t.Errorf("model=%q, payment=%q: エラーを返すべきだが、nilが返った", tc.model, tc.payment)
			}
		}
	})

	t.Run("信頼するプロキシの指定が不正な場合はエラーになること", func(t *testing.T) {
		t.Parallel()

		base := newTestEnv(t)
		cfg := &config.Config{
			ServerURL:        "http://model",
			PaymentServerURL: "http://payment",
			TrustedProxies:   []string{"not-an-ip"},
		}
		if _, err := NewServer(cfg, Deps{Sessions: base.server.sessions, Codec: base.codec, Users: base.users}); err == nil {
			t.Error("NewServer()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestHandleRoot はルートエンドポイントのテスト。
func TestHandleRoot(t *testing.T) {
	t.Parallel()

	t.Run("アプリケーション名とバージョンを返すこと", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		w := env.do(http.MethodGet, "/", "", nil)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		body := decodeBody(t, w)
		if body["app"] != "Auth Service" || body["version"] != "1.2.3" {
			t.Errorf("body = %v", body)
		}
	})
}

// TestHandleHealth はヘルスチェックのテスト。
func TestHandleHealth(t *testing.T) {
	t.Parallel()

	t.Run("生存メッセージを返すこと", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		w := env.do(http.MethodGet, "/health", "", nil)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if body := decodeBody(t, w); body["message"] != "Auth service is alive" {
			t.Errorf("message = %v", body["message"])
		}
	})
}

// TestHandleLogin はログインハンドラのテスト。
func TestHandleLogin(t *testing.T) {
	t.Parallel()

	t.Run("ログイン後の/authでユーザー情報が返ること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		w := env.do(http.MethodPost, "/login", `{"username":"alice","email":"a@x.com","avatar_uri":"u"}`, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if body := decodeBody(t, w); body["message"] != "Login OK" {
			t.Errorf("message = %v, want %q", body["message"], "Login OK")
		}
		if env.memory.Len() != 1 {
			t.Errorf("保存されたセッション数 = %d, want 1", env.memory.Len())
		}

		auth := env.do(http.MethodGet, "/auth", "", w.Result().Cookies())
		if auth.Code != http.StatusOK {
			t.Fatalf("/auth: ステータスコード = %d, want %d", auth.Code, http.StatusOK)
		}
		want := map[string]any{"userId": "42", "username": "alice", "email": "a@x.com", "avatar_uri": "u"}
		got := decodeBody(t, auth)
		if len(got) != len(want) {
			t.Errorf("body = %v, want %v", got, want)
		}
		for k, v := range want {
			if got[k] != v {
				t.Errorf("%s = %v, want %v", k, got[k], v)
			}
		}
	})

	t.Run("クレームはリクエストの値とディレクトリのIDから作られること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		env.users.response = func(userdir.LoginRequest) *userdir.UserRecord {
			return &userdir.UserRecord{ID: "7", Username: "stored-name", Email: "stored@x.com", AvatarURI: "stored"}
		}
		w := env.do(http.MethodPost, "/login", `{"username":"claimed","email":"c@x.com","avatar_uri":"c"}`, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}

		got := decodeBody(t, env.do(http.MethodGet, "/auth", "", w.Result().Cookies()))
		if got["userId"] != "7" || got["username"] != "claimed" || got["email"] != "c@x.com" || got["avatar_uri"] != "c" {
			t.Errorf("body = %v", got)
		}
	})

	t.Run("ディレクトリが失敗した場合は400でセッションが作られないこと", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		env.users.user = nil

		w := env.do(http.MethodPost, "/login", `{"username":"alice","email":"a@x.com","avatar_uri":"u"}`, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
		if body := decodeBody(t, w); body["message"] != "Login failed" {
			t.Errorf("message = %v, want %q", body["message"], "Login failed")
		}
		if len(w.Result().Cookies()) != 0 {
			t.Error("失敗時にCookieが発行されている")
		}
		if env.memory.Len() != 0 {
			t.Errorf("保存されたセッション数 = %d, want 0", env.memory.Len())
		}
	})

	t.Run("不正なJSONの場合は400でディレクトリを呼ばないこと", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		w := env.do(http.MethodPost, "/login", `{invalid`, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
		if env.users.callCount() != 0 {
			t.Errorf("ディレクトリ呼び出し回数 = %d, want 0", env.users.callCount())
		}
	})

	t.Run("リクエストIDがディレクトリ呼び出しに伝播されること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		w := env.do(http.MethodPost, "/login", `{"username":"alice"}`, nil, httpclient.HeaderRequestID, "login-req-1")
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if len(env.users.reqIDs) != 1 || env.users.reqIDs[0] != "login-req-1" {
			t.Errorf("伝播されたリクエストID = %v", env.users.reqIDs)
		}
	})

	t.Run("セッションの保存に失敗した場合は500になること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, withStore(func(m *session.MemoryStore) session.Store {
			return &faultyStore{Store: m, setErr: errors.New("redis down")}
		}))
		w := env.do(http.MethodPost, "/login", `{"username":"alice"}`, nil)
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusInternalServerError)
		}
		if w.Body.String() != middleware.InternalErrorMessage {
			t.Errorf("body = %q, want %q", w.Body.String(), middleware.InternalErrorMessage)
		}
	})

	t.Run("レート制限を超えると429になること", func(t *testing.T) {
		t.Parallel()

		rl := middleware.NewRateLimiter(middleware.PerMinute(1))
		t.Cleanup(rl.Stop)
		env := newTestEnv(t, withLoginLimiter(rl))

		if w := env.do(http.MethodPost, "/login", `{"username":"alice"}`, nil); w.Code != http.StatusOK {
			t.Fatalf("1回目: ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		w := env.do(http.MethodPost, "/login", `{"username":"alice"}`, nil)
		if w.Code != http.StatusTooManyRequests {
			t.Errorf("2回目: ステータスコード = %d, want %d", w.Code, http.StatusTooManyRequests)
		}
		if env.users.callCount() != 1 {
			t.Errorf("ディレクトリ呼び出し回数 = %d, want 1", env.users.callCount())
		}
	})

	t.Run("X-Forwarded-Forを変えてもレート制限を回避できないこと", func(t *testing.T) {
		t.Parallel()

		rl := middleware.NewRateLimiter(middleware.PerMinute(1))
		t.Cleanup(rl.Stop)
		env := newTestEnv(t, withLoginLimiter(rl))

		var codes []int
		for i := range 5 {
			w := env.do(http.MethodPost, "/login", `{"username":"alice"}`, nil,
				"X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
			codes = append(codes, w.Code)
		}
		for i, code := range codes[1:] {
			if code != http.StatusTooManyRequests {
				t.Errorf("%d回目: ステータスコード = %d, want %d", i+2, code, http.StatusTooManyRequests)
			}
		}
		if env.users.callCount() != 1 {
			t.Errorf("ディレクトリ呼び出し回数 = %d, want 1", env.users.callCount())
		}
	})

	t.Run("信頼するプロキシ経由ではX-Forwarded-Forのクライアントごとに制限されること", func(t *testing.T) {
		t.Parallel()

		rl := middleware.NewRateLimiter(middleware.PerMinute(1))
		t.Cleanup(rl.Stop)
		// httptest.NewRequestの接続元アドレスは192.0.2.1
		env := newTestEnv(t, withLoginLimiter(rl), withTrustedProxies("192.0.2.1"))

		for i := range 3 {
			w := env.do(http.MethodPost, "/login", `{"username":"alice"}`, nil,
				"X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
			if w.Code != http.StatusOK {
				t.Errorf("10.0.0.%d: ステータスコード = %d, want %d", i, w.Code, http.StatusOK)
			}
		}
		w := env.do(http.MethodPost, "/login", `{"username":"alice"}`, nil, "X-Forwarded-For", "10.0.0.0")
		if w.Code != http.StatusTooManyRequests {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusTooManyRequests)
		}
	})
}

// TestHandleAuth は認証確認ハンドラのテスト。
func TestHandleAuth(t *testing.T) {
	t.Parallel()

	t.Run("セッションが無い場合は401になること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		w := env.do(http.MethodGet, "/auth", "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if body := decodeBody(t, w); body["message"] != "Unauthorized" {
			t.Errorf("message = %v, want %q", body["message"], "Unauthorized")
		}
	})

	t.Run("改ざんされたトークンは401でセッションは変更されないこと", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		cookies := env.login(t)

		sess, err := sessionFromCookies(env, cookies)
		if err != nil {
			t.Fatalf("セッションの取得に失敗: %v", err)
		}
		tampered := sess.Token()[:len(sess.Token())-2] + "xx"
		sess.SetToken(tampered)
		if err := env.memory.Set(context.Background(), sess.ID, &sess.Data, time.Hour); err != nil {
			t.Fatalf("セッションの書き換えに失敗: %v", err)
		}

		w := env.do(http.MethodGet, "/auth", "", cookies)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}

		after, err := env.memory.Get(context.Background(), sess.ID)
		if err != nil {
			t.Fatalf("401後にセッションが消えている: %v", err)
		}
		if after.JWTToken != tampered {
			t.Errorf("セッションのトークンが変更されている")
		}
	})

	t.Run("期限切れトークンは401になること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		cookies := env.login(t)

		past := time.Now().Add(-2 * time.Hour)
		expiredCodec, _ := token.NewCodec(testJWTSecret, time.Hour, token.WithClock(func() time.Time { return past }))
		expired, _ := expiredCodec.Sign(token.Identity{UserID: "42"})

		sess, _ := sessionFromCookies(env, cookies)
		sess.SetToken(expired)
		_ = env.memory.Set(context.Background(), sess.ID, &sess.Data, time.Hour)

		if w := env.do(http.MethodGet, "/auth", "", cookies); w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("ストアの読み込みに失敗した場合は500になること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		cookies := env.login(t)

		failing := newTestEnv(t, withStore(func(m *session.MemoryStore) session.Store {
			return &faultyStore{Store: m, getErr: errors.New("redis down")}
		}))
		// 同じ秘密鍵で署名されたCookieを持ち込む
		w := failing.do(http.MethodGet, "/auth", "", cookies)
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusInternalServerError)
		}
		if w.Body.String() != "Something went wrong!" {
			t.Errorf("body = %q", w.Body.String())
		}
	})

	t.Run("許可オリジンからは資格情報付きCORSヘッダーが返ること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		w := env.do(http.MethodGet, "/auth", "", nil, "Origin", "http://localhost:3000")
		if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
			t.Errorf("Access-Control-Allow-Credentials = %q, want %q", got, "true")
		}
	})
}

// TestHandleLogout はログアウトハンドラのテスト。
func TestHandleLogout(t *testing.T) {
	t.Parallel()

	t.Run("ログアウト後の/authは401になること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		cookies := env.login(t)

		w := env.do(http.MethodGet, "/logout", "", cookies)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if body := decodeBody(t, w); body["message"] != "Logout successfully" {
			t.Errorf("message = %v, want %q", body["message"], "Logout successfully")
		}
		cleared := false
		for _, ck := range w.Result().Cookies() {
			if ck.Name == testCookieName && ck.MaxAge < 0 {
				cleared = true
			}
		}
		if !cleared {
			t.Error("セッションCookieが削除されていない")
		}
		if env.memory.Len() != 0 {
			t.Errorf("保存されたセッション数 = %d, want 0", env.memory.Len())
		}

		if auth := env.do(http.MethodGet, "/auth", "", cookies); auth.Code != http.StatusUnauthorized {
			t.Errorf("ログアウト後の/auth: ステータスコード = %d, want %d", auth.Code, http.StatusUnauthorized)
		}
	})

	t.Run("セッションが無くてもログアウトは成功すること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		if w := env.do(http.MethodGet, "/logout", "", nil); w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("ストアの削除に失敗した場合は500でCookieは削除されないこと", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, withStore(func(m *session.MemoryStore) session.Store {
			return &faultyStore{Store: m, destroyErr: errors.New("redis down")}
		}))
		cookies := env.login(t)

		w := env.do(http.MethodGet, "/logout", "", cookies)
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusInternalServerError)
		}
		if w.Body.String() != middleware.InternalErrorMessage {
			t.Errorf("body = %q", w.Body.String())
		}
		if len(w.Result().Cookies()) != 0 {
			t.Error("失敗時にCookieが削除されている")
		}
		if auth := env.do(http.MethodGet, "/auth", "", cookies); auth.Code != http.StatusOK {
			t.Errorf("/auth: ステータスコード = %d, want %d", auth.Code, http.StatusOK)
		}
	})
}

// TestMetricsEndpoint は/metricsのテスト。
func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("ログインと認証確認の結果が公開されること", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		cookies := env.login(t)
		env.do(http.MethodGet, "/auth", "", cookies)
		env.do(http.MethodGet, "/auth", "", nil)

		w := env.do(http.MethodGet, "/metrics", "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		for _, want := range []string{
			`authgate_logins_total{result="ok"} 1`,
			`authgate_auth_checks_total{authorized="true"} 1`,
			`authgate_auth_checks_total{authorized="false"} 1`,
		} {
			if !strings.Contains(w.Body.String(), want) {
				t.Errorf("メトリクスに %q が含まれていない", want)
			}
		}
	})
}

// sessionFromCookies はCookieが指すセッションをストアから読み込む。
func sessionFromCookies(env *testEnv, cookies []*http.Cookie) (*session.Session, error) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	c.Request = req

	sess, err := env.server.sessions.Get(c)
	if err != nil {
		return nil, err
	}
	if sess.IsNew() {
		return nil, errors.New("セッションが見つからない")
	}
	return sess, nil
}
