package gateway

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/authgate/internal/config"
	"github.com/nao1215/authgate/internal/metrics"
	"github.com/nao1215/authgate/internal/session"
	"github.com/nao1215/authgate/internal/token"
	"github.com/nao1215/authgate/internal/userdir"
	"github.com/nao1215/authgate/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// appName はルートエンドポイントで返すアプリケーション名。
const appName = "Auth Service"

// Deps はServerが利用するプロセス単位のサービス群。
type Deps struct {
	// Sessions はセッションの読み書きを行う。
	Sessions *session.Manager
	// Codec はJWTの署名と検証を行う。
	Codec *token.Codec
	// Users はユーザーディレクトリのクライアント。
	Users userdir.Registrar
	// Recorder はメトリクスの記録先。nilの場合は記録しない。
	Recorder metrics.Recorder
	// Gatherer は/metricsで公開するメトリクスの取得元。nilの場合は公開しない。
	Gatherer prometheus.Gatherer
	// Logger はアプリケーションログの出力先。nilの場合はslog.Default()。
	Logger *slog.Logger
	// AccessLog はアクセスログの出力先。nilの場合は出力しない。
	AccessLog io.Writer
	// LoginLimiter はPOST /loginのレート制限。nilの場合は制限しない。
	LoginLimiter *middleware.RateLimiter
}

// Server は認証ゲートウェイのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// version はルートエンドポイントで返すバージョン。
	version string
	// sessions はセッションマネージャー。
	sessions *session.Manager
	// codec はJWTコーデック。
	codec *token.Codec
	// users はユーザーディレクトリのクライアント。
	users userdir.Registrar
	// recorder はメトリクスの記録先。
	recorder metrics.Recorder
	// logger はアプリケーションロガー。
	logger *slog.Logger
	// upstreams はプロキシ先の上流サービス。
	upstreams []*upstream
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Sessions == nil || deps.Codec == nil || deps.Users == nil {
		return nil, errors.New("セッション、JWTコーデック、ユーザーディレクトリは必須です")
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Server{
		version:  cfg.Version,
		sessions: deps.Sessions,
		codec:    deps.Codec,
		users:    deps.Users,
		recorder: deps.Recorder,
		logger:   deps.Logger,
	}

	model, err := newUpstream("modelServer", cfg.ServerURL, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("SERVER_URLが不正です: %w", err)
	}
	payment, err := newUpstream("paymentServer", cfg.PaymentServerURL, deps.Logger,
		"/newebpay_return",
		"/newebpay_notify",
	)
	if err != nil {
		return nil, fmt.Errorf("PAYMENT_SERVER_URLが不正です: %w", err)
	}
	s.upstreams = []*upstream{model, payment}

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("TRUSTED_PROXIESが不正です: %w", err)
	}
	router.Use(middleware.RequestID())
	if deps.AccessLog != nil {
		router.Use(middleware.AccessLog(deps.AccessLog))
	}
	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.CORS(cfg.CORSOrigins))
	router.Use(middleware.ErrorHandler(deps.Logger))
	s.router = router

	s.setupRoutes(deps.LoginLimiter, deps.Gatherer)
	return s, nil
}

// Handler はHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes はルーティングを設定する。
func (s *Server) setupRoutes(loginLimiter *middleware.RateLimiter, gatherer prometheus.Gatherer) {
	s.router.GET("/", s.handleRoot())
	s.router.GET("/health", s.handleHealth())

	// 認証
	s.router.GET("/auth", s.handleAuth())
	login := []gin.HandlerFunc{s.handleLogin()}
	if loginLimiter != nil {
		onReject := func(*gin.Context) { s.recorder.RecordLogin(metrics.LoginRateLimited) }
		login = append([]gin.HandlerFunc{loginLimiter.Middleware(onReject)}, login...)
	}
	s.router.POST("/login", login...)
	s.router.GET("/logout", s.handleLogout())

	if gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(metrics.Handler(gatherer)))
	}

	// 上流サービス（プロキシ）
	for _, u := range s.upstreams {
		h := s.handleProxy(u)
		s.router.Any(u.prefix, h)
		s.router.Any(u.prefix+"/*path", h)
	}
}
