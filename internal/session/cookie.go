package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// signedPrefix は署名付きCookie値の接頭辞。
const signedPrefix = "s:"

// generateID は暗号論的に安全なセッションIDを生成する。
func generateID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("セッションIDの生成に失敗: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// sign は値にHMAC-SHA256署名を付与する。
func sign(value, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(value))
	return value + "." + base64.RawStdEncoding.EncodeToString(mac.Sum(nil))
}

// unsign は署名を検証して元の値を返す。
func unsign(signed, secret string) (string, bool) {
	i := strings.LastIndex(signed, ".")
	if i < 0 {
		return "", false
	}
	value := signed[:i]
	if !hmac.Equal([]byte(sign(value, secret)), []byte(signed)) {
		return "", false
	}
	return value, true
}

// encodeCookieValue はセッションIDをCookieに載せる形式に変換する。
func encodeCookieValue(id, secret string) string {
	return url.QueryEscape(signedPrefix + sign(id, secret))
}

// decodeCookieValue はCookie値からセッションIDを取り出す。
// 署名が無い、または一致しない場合はfalseを返す。
func decodeCookieValue(raw, secret string) (string, bool) {
	value, err := url.PathUnescape(raw)
	if err != nil {
		return "", false
	}
	signed, ok := strings.CutPrefix(value, signedPrefix)
	if !ok {
		return "", false
	}
	id, ok := unsign(signed, secret)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
