package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, membership, upstream, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeBeaconNotFound     = "BEACON_NOT_FOUND"
	ErrCodeNoActiveMembership = "NO_ACTIVE_MEMBERSHIP"
	ErrCodeUpstreamError      = "UPSTREAM_ERROR"
	ErrCodeInvalidEmail       = "INVALID_EMAIL"
	ErrCodeSyncFailed         = "SYNC_FAILED"
	ErrCodeConfigError        = "CONFIG_ERROR"
)

// NewBeaconNotFoundError はメールアドレスに一致するメンバーシップが
// 全戦略で見つからなかった場合のエラーを生成する。
// ゼロ値のレコードではなくこのエラーを返すこと（「メンバーシップなし」と
// 「メンバーシップはあるが無効」を呼び出し元が区別するため）。
func NewBeaconNotFoundError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeBeaconNotFound,
		Message:  fmt.Sprintf("メールアドレスに一致するメンバーシップが見つかりません: %s", email),
		Category: "membership",
		Action:   "会員登録済みのメールアドレスかどうか確認してください。",
	}
}

// NewNoActiveMembershipError はメンバーシップは存在するが
// 有効（Active）なものがない場合のエラーを生成する。
func NewNoActiveMembershipError() *APIError {
	return &APIError{
		Code:     ErrCodeNoActiveMembership,
		Message:  "有効なメンバーシップがありません。",
		Category: "membership",
		Action:   "メンバーシップの更新状況を確認してください。",
	}
}

// NewUpstreamError はBeacon CRMへの問い合わせが全戦略で失敗した場合の
// エラーを生成する。一時的なCRM側の障害の可能性があるため、
// BEACON_NOT_FOUNDとは区別してログに記録すること。
func NewUpstreamError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamError,
		Message:  fmt.Sprintf("Beacon CRMへの問い合わせに失敗しました: %s", reason),
		Category: "upstream",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidEmailError は無効なメールアドレスエラーを生成する。
func NewInvalidEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  "メールアドレスが指定されていないか、形式が不正です。",
		Category: "validation",
		Action:   "正しいメールアドレスを指定してください。",
	}
}

// NewSyncFailedError は同期実行のハード失敗（候補行の読み込み失敗など）の
// エラーを生成する。部分完了・タイムボックス打ち切りはハード失敗ではない。
func NewSyncFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeSyncFailed,
		Message:  fmt.Sprintf("メンバーシップ同期の実行に失敗しました: %s", reason),
		Category: "system",
		Action:   "データベース接続とBeacon API設定を確認してください。",
	}
}

// NewConfigError は設定エラー（認証情報・エンドポイント未設定）を生成する。
// リトライせず即座に呼び出し元へ伝播させること。
func NewConfigError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeConfigError,
		Message:  fmt.Sprintf("設定が不正です: %s", reason),
		Category: "system",
		Action:   "環境変数の設定を確認してください。",
	}
}
