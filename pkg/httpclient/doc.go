// Package httpclient は上流サービスへのJSON通信を行うクライアントを提供する。
//
// ユーザーディレクトリへのログイン要求など、Gatewayから上流サービスへの
// 呼び出しパターンを統一する。リクエストIDはコンテキスト経由で伝播する。
package httpclient
