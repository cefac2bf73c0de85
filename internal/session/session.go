// Package session はブラウザごとのセッションを管理する。
//
// 署名付きCookieに載せた不透明なセッションIDと、外部ストアに保存した
// セッション状態を対応付ける。状態にはログイン時に発行したJWTのみを保持する。
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound はセッションがストアに存在しないことを表す。
var ErrNotFound = errors.New("session not found")

// CookieData はストアに保存するCookie属性。
type CookieData struct {
	OriginalMaxAge int64      `json:"originalMaxAge"`
	Expires        *time.Time `json:"expires,omitempty"`
	Secure         bool       `json:"secure"`
	HTTPOnly       bool       `json:"httpOnly"`
	Path           string     `json:"path"`
}

// Data はストアに保存するセッション状態。
type Data struct {
	Cookie   CookieData `json:"cookie"`
	JWTToken string     `json:"jwtToken,omitempty"`
}

// Store はセッション状態の永続化先。
// 実装はゴルーチンセーフでなければならない。
type Store interface {
	// Get はセッション状態を取得する。存在しなければErrNotFoundを返す。
	Get(ctx context.Context, id string) (*Data, error)
	// Set はセッション状態をttl付きで保存する。
	Set(ctx context.Context, id string, data *Data, ttl time.Duration) error
	// Touch は有効期限をttlに延長する。
	Touch(ctx context.Context, id string, ttl time.Duration) error
	// Destroy はセッション状態を削除する。存在しなくてもエラーにしない。
	Destroy(ctx context.Context, id string) error
	// Close はストアの接続を閉じる。
	Close() error
}

// Session はリクエスト中に扱うセッション。
type Session struct {
	// ID はセッションID。未保存の新規セッションでは空。
	ID string
	// Data はセッション状態。
	Data Data
}

// IsNew はまだストアに保存されていないセッションかどうかを返す。
func (s *Session) IsNew() bool {
	return s.ID == ""
}

// Token は保存されているJWTを返す。
func (s *Session) Token() string {
	return s.Data.JWTToken
}

// SetToken はJWTを設定する。
func (s *Session) SetToken(token string) {
	s.Data.JWTToken = token
}
