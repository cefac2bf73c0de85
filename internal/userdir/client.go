// Package userdir はユーザーディレクトリサービスへのクライアントを提供する。
//
// ログイン時に受け取ったプロフィールでユーザーを作成または取得する。
// 失敗はすべてnilとして呼び出し元に返し、理由はログにのみ残す。
package userdir

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nao1215/authgate/pkg/httpclient"
)

// userPath はユーザー作成エンドポイントのパス。
const userPath = "/user"

// LoginRequest はログイン時にクライアントから受け取るプロフィール。
type LoginRequest struct {
	// Username はユーザー名。
	Username string `json:"username"`
	// Email はメールアドレス。
	Email string `json:"email"`
	// AvatarURI はアバター画像のURI。
	AvatarURI string `json:"avatar_uri"`
}

// UserRecord はユーザーディレクトリが返すユーザー情報。
type UserRecord struct {
	ID        ID     `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	AvatarURI string `json:"avatar_uri"`
}

// ID はユーザーID。ディレクトリによっては数値で返すため両方を受け付ける。
type ID string

// UnmarshalJSON は文字列または数値のIDを読み込む。
func (id *ID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("ユーザーIDの形式が不正: %s", data)
	}
	*id = ID(n.String())
	return nil
}

// Registrar はユーザーの作成または取得を行う。
type Registrar interface {
	CreateOrFetch(ctx context.Context, req LoginRequest) *UserRecord
}

// Client はユーザーディレクトリサービスのHTTPクライアント。
type Client struct {
	http   *httpclient.Client
	logger *slog.Logger
}

// NewClient は新しいClientを生成する。
// loggerがnilの場合はslog.Default()を使用する。
func NewClient(baseURL string, logger *slog.Logger, opts ...httpclient.Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:   httpclient.New(baseURL, opts...),
		logger: logger,
	}
}

// CreateOrFetch はPOST /user を呼び出してユーザーを作成または取得する。
// 2xx以外の応答、通信エラー、デコードできない応答の場合はnilを返す。
func (c *Client) CreateOrFetch(ctx context.Context, req LoginRequest) *UserRecord {
	var user UserRecord
	if err := c.http.PostJSON(ctx, userPath, req, &user); err != nil {
		c.logger.WarnContext(ctx, "user directory request failed",
			slog.String("email", req.Email),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if user.ID == "" {
		c.logger.WarnContext(ctx, "user directory returned no id",
			slog.String("email", req.Email),
		)
		return nil
	}
	return &user
}
