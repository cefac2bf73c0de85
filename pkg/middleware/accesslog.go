package middleware

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
)

// clfTimeFormat はCommon Log Formatの時刻形式。
const clfTimeFormat = "02/Jan/2006:15:04:05 -0700"

// OpenAccessLog はアクセスログファイルを追記モードで開く。
// 親ディレクトリが無ければ作成する。
func OpenAccessLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ログディレクトリの作成に失敗: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("アクセスログファイルのオープンに失敗: %w", err)
	}
	return f, nil
}

// AccessLog はリクエストごとに1行をCommon Log Formatでwに書き込むGinミドルウェアを返す。
func AccessLog(w io.Writer) gin.HandlerFunc {
	return gin.LoggerWithConfig(gin.LoggerConfig{
		Output:    w,
		Formatter: commonLogFormat,
	})
}

// commonLogFormat は1リクエスト分のログ行を組み立てる。
func commonLogFormat(p gin.LogFormatterParams) string {
	proto := "HTTP/1.1"
	if p.Request != nil {
		proto = p.Request.Proto
	}
	size := "-"
	if p.BodySize >= 0 {
		size = strconv.Itoa(p.BodySize)
	}
	return fmt.Sprintf("%s - - [%s] \"%s %s %s\" %d %s\n",
		p.ClientIP,
		p.TimeStamp.Format(clfTimeFormat),
		p.Method,
		p.Path,
		proto,
		p.StatusCode,
		size,
	)
}
