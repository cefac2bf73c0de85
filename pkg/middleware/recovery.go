package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
)

// InternalErrorMessage は内部エラー時にクライアントへ返す本文。
const InternalErrorMessage = "Something went wrong!"

// Recovery はパニックからの回復を行うGinミドルウェアを返す。
// パニック発生時にスタックトレースをログに出力し、500エラーを返す。
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.ErrorContext(c.Request.Context(), "panic recovered",
					slog.String("method", c.Request.Method),
					slog.String("path", c.Request.URL.Path),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				c.Abort()
				if !c.Writer.Written() {
					c.String(http.StatusInternalServerError, InternalErrorMessage)
				}
			}
		}()
		c.Next()
	}
}

// ErrorHandler はハンドラーがc.Errorで登録したエラーを処理するGinミドルウェアを返す。
// エラーをログに出力し、レスポンス未送信であれば500エラーを返す。
func ErrorHandler(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		for _, e := range c.Errors {
			logger.ErrorContext(c.Request.Context(), "request failed",
				slog.String("method", c.Request.Method),
				slog.String("path", c.Request.URL.Path),
				slog.String("error", e.Error()),
			)
		}
		if !c.Writer.Written() {
			c.String(http.StatusInternalServerError, InternalErrorMessage)
		}
	}
}
