package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nao1215/authgate/internal/config"
	"github.com/nao1215/authgate/internal/metrics"
	"github.com/nao1215/authgate/internal/session"
	"github.com/nao1215/authgate/internal/token"
	"github.com/nao1215/authgate/internal/userdir"
	"github.com/nao1215/authgate/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App はGatewayプロセス全体のライフサイクルを管理する。
type App struct {
	httpServer *http.Server
	logger     *slog.Logger
	cleanup    []func() error
}

// NewApp は設定からセッションストア、JWTコーデック、ユーザーディレクトリクライアント、
// メトリクス、アクセスログを組み立ててAppを生成する。
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{logger: logger}

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.cleanup = append(a.cleanup, store.Close)

	sessions, err := session.NewManager(store, session.Options{
		CookieName: cfg.CookieName,
		Secret:     cfg.SessionSecret,
		MaxAge:     cfg.SessionMaxAge,
		Secure:     cfg.Production,
		HTTPOnly:   cfg.Production,
		Rolling:    cfg.SessionRolling,
	})
	if err != nil {
		_ = a.close()
		return nil, fmt.Errorf("セッションマネージャーの初期化に失敗: %w", err)
	}

	codec, err := token.NewCodec(cfg.JWTSecretKey, cfg.JWTExpiresIn)
	if err != nil {
		_ = a.close()
		return nil, fmt.Errorf("JWTコーデックの初期化に失敗: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var accessLog io.Writer
	if cfg.AccessLogPath != "" {
		f, err := middleware.OpenAccessLog(cfg.AccessLogPath)
		if err != nil {
			_ = a.close()
			return nil, err
		}
		accessLog = f
		a.cleanup = append(a.cleanup, f.Close)
	}

	var limiter *middleware.RateLimiter
	if cfg.LoginRateLimitPerMin > 0 {
		limiter = middleware.NewRateLimiter(middleware.PerMinute(cfg.LoginRateLimitPerMin))
		a.cleanup = append(a.cleanup, func() error { limiter.Stop(); return nil })
	}

	server, err := NewServer(cfg, Deps{
		Sessions:     sessions,
		Codec:        codec,
		Users:        userdir.NewClient(cfg.UserServiceURL, logger),
		Recorder:     metrics.NewCollector(reg),
		Gatherer:     reg,
		Logger:       logger,
		AccessLog:    accessLog,
		LoginLimiter: limiter,
	})
	if err != nil {
		_ = a.close()
		return nil, err
	}

	a.httpServer = &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// OpenStore は設定に応じたセッションストアを開く。
func OpenStore(ctx context.Context, cfg *config.Config) (session.Store, error) {
	switch cfg.SessionStore {
	case config.StoreRedis:
		client, err := session.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return session.NewRedisStore(client, cfg.RedisKeyPrefix), nil
	case config.StoreSQLite:
		store, err := session.OpenSQLite(ctx, cfg.SessionSQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreMemory:
		return session.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("未対応のセッションストアです: %q", cfg.SessionStore)
	}
}

// Handler はHTTPハンドラーを返す。
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run はHTTPサーバーを起動する。Shutdownで停止した場合はnilを返す。
func (a *App) Run() error {
	a.logger.Info("gateway listening", slog.String("addr", a.httpServer.Addr))
	if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
	}
	return nil
}

// Serve は指定したリスナーでHTTPサーバーを起動する。
func (a *App) Serve(ln net.Listener) error {
	if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
	}
	return nil
}

// Shutdown は処理中のリクエストを待ってからHTTPサーバーを停止し、リソースを解放する。
func (a *App) Shutdown(ctx context.Context) error {
	err := a.httpServer.Shutdown(ctx)
	return errors.Join(err, a.close())
}

// close は登録された後始末を逆順に実行する。
func (a *App) close() error {
	var errs []error
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		if err := a.cleanup[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.cleanup = nil
	return errors.Join(errs...)
}
