package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// upstream はパス接頭辞で振り分ける上流サービス。
type upstream struct {
	// name はメトリクスとログで使う名前。
	name string
	// prefix は取り除くパス接頭辞（例: "/modelServer"）。
	prefix string
	// target は転送先のベースURL。
	target *url.URL
	// noToken はトークンを付与しない接頭辞除去後のパス。
	noToken map[string]struct{}
	// proxy はリバースプロキシ。
	proxy *httputil.ReverseProxy
}

// bearerKey はプロキシに渡すトークンを格納するコンテキストキー。
type bearerKey struct{}

// newUpstream は新しいupstreamを生成する。
// noTokenPathsに一致するパスへはセッションがあってもトークンを付与しない。
func newUpstream(name, rawURL string, logger *slog.Logger, noTokenPaths ...string) (*upstream, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("URLの解析に失敗: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("スキームとホストが必要です: %q", rawURL)
	}

	u := &upstream{
		name:    name,
		prefix:  "/" + name,
		target:  target,
		noToken: make(map[string]struct{}, len(noTokenPaths)),
	}
	for _, p := range noTokenPaths {
		u.noToken[p] = struct{}{}
	}

	u.proxy = &httputil.ReverseProxy{
		Rewrite: u.rewrite,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.ErrorContext(r.Context(), "upstream request failed",
				slog.String("upstream", name),
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"message":"Bad Gateway"}`))
		},
	}
	return u, nil
}

// stripPrefix は接頭辞を取り除いたパスを返す。結果は必ず"/"で始まる。
func (u *upstream) stripPrefix(p string) string {
	p = strings.TrimPrefix(p, u.prefix)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// injectsToken は接頭辞除去後のパスにトークンを付与するかどうかを返す。
// 末尾スラッシュや重複スラッシュの違いは無視して照合する。
func (u *upstream) injectsToken(p string) bool {
	_, skip := u.noToken[path.Clean(p)]
	return !skip
}

// rewrite は上流サービス向けにリクエストを書き換える。
// 接頭辞を取り除き、Hostを上流に合わせ、Authorizationヘッダーを差し替える。
func (u *upstream) rewrite(pr *httputil.ProxyRequest) {
	pr.Out.URL.Path = u.stripPrefix(pr.In.URL.Path)
	pr.Out.URL.RawPath = ""
	if pr.In.URL.RawPath != "" {
		pr.Out.URL.RawPath = u.stripPrefix(pr.In.URL.RawPath)
	}
	pr.SetURL(u.target)

	pr.Out.Header.Del("Authorization")
	if tok, _ := pr.In.Context().Value(bearerKey{}).(string); tok != "" {
		pr.Out.Header.Set("Authorization", "Bearer "+tok)
	}
}

// handleProxy は上流サービスへリクエストを転送するハンドラを返す。
// 認証されていないリクエストも拒否せずそのまま転送する。
func (s *Server) handleProxy(u *upstream) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := s.sessions.Get(c)
		if err != nil {
			_ = c.Error(err)
			return
		}

		ctx := c.Request.Context()
		if u.injectsToken(u.stripPrefix(c.Request.URL.Path)) {
			ctx = context.WithValue(ctx, bearerKey{}, sess.Token())
		}

		start := time.Now()
		u.proxy.ServeHTTP(c.Writer, c.Request.WithContext(ctx))
		s.recorder.RecordProxy(u.name, c.Writer.Status(), time.Since(start))
	}
}
