// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// パニックリカバリと共通エラーレスポンス、アクセスログ、リクエストID、
// CORS設定、クライアントIP単位のレート制限を含む。
package middleware
