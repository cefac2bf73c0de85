package gateway

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/authgate/internal/metrics"
	"github.com/nao1215/authgate/internal/token"
	"github.com/nao1215/authgate/internal/userdir"
)

// messageResponse はメッセージのみのレスポンス。
type messageResponse struct {
	Message string `json:"message"`
}

var (
	unauthorized = messageResponse{Message: "Unauthorized"}
	loginFailed  = messageResponse{Message: "Login failed"}
)

// handleRoot はアプリケーション名とバージョンを返すハンドラを返す。
func (s *Server) handleRoot() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"app": appName, "version": s.version})
	}
}

// handleHealth はヘルスチェックのハンドラを返す。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, messageResponse{Message: "Auth service is alive"})
	}
}

// handleAuth はセッションのJWTを検証してユーザー情報を返すハンドラを返す。
// 検証に失敗してもセッションは変更しない。
func (s *Server) handleAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := s.sessions.Get(c)
		if err != nil {
			_ = c.Error(err)
			return
		}

		tokenString := sess.Token()
		if tokenString == "" {
			s.recorder.RecordAuthCheck(false)
			c.JSON(http.StatusUnauthorized, unauthorized)
			return
		}

		claims, err := s.codec.Verify(tokenString)
		if err != nil {
			s.logger.InfoContext(c.Request.Context(), "session token rejected",
				slog.String("error", err.Error()),
			)
			s.recorder.RecordAuthCheck(false)
			c.JSON(http.StatusUnauthorized, unauthorized)
			return
		}

		s.recorder.RecordAuthCheck(true)
		c.JSON(http.StatusOK, claims.Identity)
	}
}

// handleLogin はユーザーディレクトリでユーザーを作成または取得し、
// JWTを発行してセッションに保存するハンドラを返す。
//
// username, email, avatar_uri はリクエストの値をそのままクレームに載せ、
// ユーザーディレクトリからはIDのみを使う。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req userdir.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.recorder.RecordLogin(metrics.LoginFailed)
			c.JSON(http.StatusBadRequest, loginFailed)
			return
		}

		sess, err := s.sessions.Get(c)
		if err != nil {
			s.recorder.RecordLogin(metrics.LoginStoreError)
			_ = c.Error(err)
			return
		}

		user := s.users.CreateOrFetch(c.Request.Context(), req)
		if user == nil {
			s.recorder.RecordLogin(metrics.LoginFailed)
			c.JSON(http.StatusBadRequest, loginFailed)
			return
		}

		signed, err := s.codec.Sign(token.Identity{
			UserID:    string(user.ID),
			Username:  req.Username,
			Email:     req.Email,
			AvatarURI: req.AvatarURI,
		})
		if err != nil {
			_ = c.Error(err)
			return
		}

		sess.SetToken(signed)
		if err := s.sessions.Set(c, sess); err != nil {
			s.recorder.RecordLogin(metrics.LoginStoreError)
			_ = c.Error(err)
			return
		}

		s.logger.InfoContext(c.Request.Context(), "user logged in",
			slog.String("user_id", string(user.ID)),
		)
		s.recorder.RecordLogin(metrics.LoginOK)
		c.JSON(http.StatusOK, messageResponse{Message: "Login OK"})
	}
}

// handleLogout はセッションを破棄してCookieを削除するハンドラを返す。
func (s *Server) handleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := s.sessions.Get(c)
		if err != nil {
			_ = c.Error(err)
			return
		}
		if err := s.sessions.Destroy(c, sess); err != nil {
			_ = c.Error(err)
			return
		}

		s.sessions.ClearCookie(c)
		c.JSON(http.StatusOK, messageResponse{Message: "Logout successfully"})
	}
}
