// Package config は環境変数からGatewayの設定を読み込む。
//
// 起動時に1回だけ読み込み、以降はイミュータブルとして扱う。
// 必須の環境変数が1つでも欠けていれば起動を中止する。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// requiredKeys は起動に必須の環境変数。この順序で検査する。
var requiredKeys = []string{
	// Status
	"VERSION",
	"PORT",
	"NODE_ENV",
	// Redis
	"REDIS_URL",
	"REDIS_KEY_PREFIX",
	// Google Auth
	"CLIENT_ID",
	// Session
	"SESSION_MAX_AGE_IN_HOURS",
	"SESSION_SECRET",
	"JWT_SECRET_KEY",
	"COOKIE_NAME",
	// External APIs
	"SERVER_URL",
	"PAYMENT_SERVER_URL",
}

// RequiredKeys は必須環境変数の一覧を検査順で返す。
func RequiredKeys() []string {
	keys := make([]string, len(requiredKeys))
	copy(keys, requiredKeys)
	return keys
}

// MissingError は必須環境変数が未設定であることを表す。
type MissingError struct {
	// Key は最初に見つかった未設定の環境変数名。
	Key string
}

// Error はエラーメッセージを返す。
func (e *MissingError) Error() string {
	return fmt.Sprintf("Environment variable %s is not found.", e.Key)
}

// Session ストアの種類。
const (
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// defaultCORSOrigin はローカル開発用フロントエンドのオリジン。
const defaultCORSOrigin = "http://localhost:3000"

// Config はGateway全体の設定を保持する。
type Config struct {
	// Status
	Version    string
	Port       string
	Env        string
	Production bool

	// Redis
	RedisURL       string
	RedisKeyPrefix string

	// Google Auth
	ClientID string

	// Session
	SessionMaxAge     time.Duration
	SessionSecret     string
	SessionRolling    bool
	SessionStore      string
	SessionSQLitePath string
	CookieName        string
	JWTSecretKey      string
	JWTExpiresIn      time.Duration

	// External APIs
	ServerURL        string
	PaymentServerURL string
	UserServiceURL   string

	// CORS
	CORSOrigins []string

	// TrustedProxies はX-Forwarded-Forを信頼するプロキシのIPまたはCIDR。
	// 空の場合は接続元アドレスのみをクライアントIPとする。
	TrustedProxies []string

	// Logging
	AccessLogPath string
	LogLevel      string

	// Rate Limit
	LoginRateLimitPerMin int
}

// LoadDotEnv はカレントディレクトリの.envを読み込む。
// ファイルが無い場合は何もしない。既存の環境変数は上書きしない。
func LoadDotEnv(filenames ...string) error {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}
	for _, name := range filenames {
		if _, err := os.Stat(name); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			return fmt.Errorf("%sの読み込みに失敗: %w", name, err)
		}
	}
	return nil
}

// Load はプロセスの環境変数からConfigを読み込む。
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom はlookupから値を取得してConfigを組み立てる。
// 必須値が未設定なら最初に見つかったものを*MissingErrorとして返す。
// 空文字列は設定済みとして扱う。
func LoadFrom(lookup func(string) (string, bool)) (*Config, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	for _, key := range requiredKeys {
		if _, ok := lookup(key); !ok {
			return nil, &MissingError{Key: key}
		}
	}

	hours, err := strconv.ParseFloat(get("SESSION_MAX_AGE_IN_HOURS"), 64)
	if err != nil || hours <= 0 {
		return nil, fmt.Errorf("SESSION_MAX_AGE_IN_HOURS は正の数である必要があります: %q", get("SESSION_MAX_AGE_IN_HOURS"))
	}
	maxAge := time.Duration(hours * float64(time.Hour))

	cfg := &Config{
		Version:           get("VERSION"),
		Port:              get("PORT"),
		Env:               get("NODE_ENV"),
		RedisURL:          get("REDIS_URL"),
		RedisKeyPrefix:    get("REDIS_KEY_PREFIX"),
		ClientID:          get("CLIENT_ID"),
		SessionMaxAge:     maxAge,
		SessionSecret:     get("SESSION_SECRET"),
		JWTSecretKey:      get("JWT_SECRET_KEY"),
		CookieName:        get("COOKIE_NAME"),
		ServerURL:         strings.TrimRight(get("SERVER_URL"), "/"),
		PaymentServerURL:  strings.TrimRight(get("PAYMENT_SERVER_URL"), "/"),
		SessionStore:      orDefault(get("SESSION_STORE"), StoreRedis),
		SessionSQLitePath: orDefault(get("SESSION_SQLITE_PATH"), "data/sessions.db"),
		AccessLogPath:     orDefault(get("ACCESS_LOG_PATH"), "log/access.log"),
		LogLevel:          orDefault(get("LOG_LEVEL"), "info"),
	}
	cfg.Production = cfg.Env == "production"
	cfg.UserServiceURL = strings.TrimRight(orDefault(get("USER_SERVICE_URL"), cfg.ServerURL), "/")

	cfg.CORSOrigins = []string{defaultCORSOrigin}
	if origin := get("PRODUCTION_CORS_ENDPOINT"); origin != "" {
		cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
	}

	for _, p := range strings.Split(get("TRUSTED_PROXIES"), ",") {
		if p = strings.TrimSpace(p); p != "" {
			cfg.TrustedProxies = append(cfg.TrustedProxies, p)
		}
	}

	switch cfg.SessionStore {
	case StoreRedis, StoreSQLite, StoreMemory:
	default:
		return nil, fmt.Errorf("SESSION_STORE が不正です: %q", cfg.SessionStore)
	}

	if v := get("SESSION_ROLLING"); v != "" {
		rolling, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("SESSION_ROLLING が不正です: %q", v)
		}
		cfg.SessionRolling = rolling
	}

	cfg.JWTExpiresIn = cfg.SessionMaxAge
	if v := get("JWT_EXPIRES_IN"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("JWT_EXPIRES_IN が不正です: %q", v)
		}
		cfg.JWTExpiresIn = d
	}

	cfg.LoginRateLimitPerMin = 30
	if v := get("LOGIN_RATE_LIMIT_PER_MIN"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("LOGIN_RATE_LIMIT_PER_MIN が不正です: %q", v)
		}
		cfg.LoginRateLimitPerMin = n
	}

	return cfg, nil
}

func orDefault(v, defaultValue string) string {
	if v != "" {
		return v
	}
	return defaultValue
}
