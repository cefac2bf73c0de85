// 認証ゲートウェイのエントリポイント。
// ログイン・ログアウト・認証確認と、上流サービスへのリバースプロキシを担当する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nao1215/authgate/internal/config"
	"github.com/nao1215/authgate/internal/gateway"
	"github.com/nao1215/authgate/internal/logger"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	log := logger.SetupDefault(os.Stdout, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	if err := config.LoadDotEnv(); err != nil {
		log.Error("failed to load .env", slog.String("error", err.Error()))
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error(err.Error())
		return 1
	}
	log = logger.SetupDefault(os.Stdout, logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := gateway.NewApp(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize gateway", slog.String("error", err.Error()))
		return 1
	}

	errCh := make(chan error, 1)
	go func() { errCh <- app.Run() }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("gateway stopped", slog.String("error", err.Error()))
			shutdown(app, log)
			return 1
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	if !shutdown(app, log) {
		return 1
	}
	log.Info("gateway stopped cleanly")
	return 0
}

// shutdown はAppを停止し、成功したかどうかを返す。
func shutdown(app *gateway.App, log *slog.Logger) bool {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", slog.String("error", err.Error()))
		return false
	}
	return true
}
