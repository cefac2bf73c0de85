package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Options はセッションCookieの設定。
type Options struct {
	// CookieName はCookie名。
	CookieName string
	// Secret はCookie署名用の秘密鍵。
	Secret string
	// MaxAge はCookieとストアの有効期限。
	MaxAge time.Duration
	// Secure はSecure属性を付与するかどうか。
	Secure bool
	// HTTPOnly はHttpOnly属性を付与するかどうか。
	HTTPOnly bool
	// Rolling が有効な場合、アクセスごとにCookieの有効期限を延長する。
	Rolling bool
	// Path はCookieのパス。空の場合は"/"。
	Path string
}

// Manager はCookieとストアを対応付けてセッションを読み書きする。
type Manager struct {
	store Store
	opts  Options
	now   func() time.Time
}

// NewManager は新しいManagerを生成する。
func NewManager(store Store, opts Options) (*Manager, error) {
	if store == nil {
		return nil, errors.New("セッションストアが指定されていません")
	}
	if opts.CookieName == "" {
		return nil, errors.New("Cookie名が空です")
	}
	if opts.Secret == "" {
		return nil, errors.New("Cookie署名用の秘密鍵が空です")
	}
	if opts.MaxAge <= 0 {
		return nil, fmt.Errorf("有効期限が不正です: %v", opts.MaxAge)
	}
	if opts.Path == "" {
		opts.Path = "/"
	}
	return &Manager{store: store, opts: opts, now: time.Now}, nil
}

// Get はリクエストのCookieからセッションを読み込む。
// Cookieが無い、署名が不正、ストアに存在しない場合は未保存の新規セッションを返す。
// 既存セッションはストアの有効期限を延長する。
func (m *Manager) Get(c *gin.Context) (*Session, error) {
	cookie, err := c.Request.Cookie(m.opts.CookieName)
	if err != nil {
		return &Session{}, nil
	}
	id, ok := decodeCookieValue(cookie.Value, m.opts.Secret)
	if !ok {
		return &Session{}, nil
	}

	ctx := c.Request.Context()
	data, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return &Session{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗: %w", err)
	}

	if err := m.store.Touch(ctx, id, m.opts.MaxAge); err != nil {
		return nil, fmt.Errorf("セッション有効期限の延長に失敗: %w", err)
	}
	if m.opts.Rolling {
		m.writeCookie(c, id)
	}
	return &Session{ID: id, Data: *data}, nil
}

// Set はセッションをストアに保存する。
// 新規セッションの場合はIDを払い出してCookieを発行する。
func (m *Manager) Set(c *gin.Context, sess *Session) error {
	isNew := sess.IsNew()
	if isNew {
		id, err := generateID()
		if err != nil {
			return err
		}
		sess.ID = id
	}

	expires := m.now().Add(m.opts.MaxAge).UTC()
	sess.Data.Cookie = CookieData{
		OriginalMaxAge: m.opts.MaxAge.Milliseconds(),
		Expires:        &expires,
		Secure:         m.opts.Secure,
		HTTPOnly:       m.opts.HTTPOnly,
		Path:           m.opts.Path,
	}

	if err := m.store.Set(c.Request.Context(), sess.ID, &sess.Data, m.opts.MaxAge); err != nil {
		if isNew {
			sess.ID = ""
		}
		return fmt.Errorf("セッションの保存に失敗: %w", err)
	}
	if isNew || m.opts.Rolling {
		m.writeCookie(c, sess.ID)
	}
	return nil
}

// Destroy はセッションをストアから削除する。
func (m *Manager) Destroy(c *gin.Context, sess *Session) error {
	if sess.IsNew() {
		return nil
	}
	if err := m.store.Destroy(c.Request.Context(), sess.ID); err != nil {
		return fmt.Errorf("セッションの削除に失敗: %w", err)
	}
	sess.ID = ""
	sess.Data = Data{}
	return nil
}

// ClearCookie はセッションCookieを削除する。
func (m *Manager) ClearCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     m.opts.CookieName,
		Value:    "",
		Path:     m.opts.Path,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: m.opts.HTTPOnly,
		Secure:   m.opts.Secure,
	})
}

// writeCookie は署名付きのセッションCookieを発行する。
func (m *Manager) writeCookie(c *gin.Context, id string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     m.opts.CookieName,
		Value:    encodeCookieValue(id, m.opts.Secret),
		Path:     m.opts.Path,
		Expires:  m.now().Add(m.opts.MaxAge),
		MaxAge:   int(m.opts.MaxAge.Seconds()),
		HttpOnly: m.opts.HTTPOnly,
		Secure:   m.opts.Secure,
	})
}
