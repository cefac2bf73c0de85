// Package gateway は認証ゲートウェイの内部実装を提供する。
//
// ログイン時にユーザーディレクトリでユーザーを作成または取得し、JWTを発行して
// セッションに保存する。/modelServer と /paymentServer 配下のリクエストは
// 上流サービスへリバースプロキシし、セッションのJWTをBearerトークンとして付与する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線として機能する。
package gateway
