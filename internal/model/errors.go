// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// RESTレスポンスとソケットのerrorイベントの両方で使用する。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, room, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAuthenticationRequired = "AUTHENTICATION_REQUIRED"
	ErrCodeInvalidCredential      = "INVALID_CREDENTIAL"
	ErrCodeAlreadyAuthenticated   = "ALREADY_AUTHENTICATED"
	ErrCodeRoomNotFound           = "ROOM_NOT_FOUND"
	ErrCodeInvalidRoomCode        = "INVALID_ROOM_CODE"
	ErrCodeAccessDenied           = "ACCESS_DENIED"
	ErrCodeValidation             = "VALIDATION_ERROR"
	ErrCodePersistenceFailure     = "PERSISTENCE_FAILURE"
	ErrCodeRateLimited            = "RATE_LIMITED"
	ErrCodeDuplicateAccount       = "DUPLICATE_ACCOUNT"
	ErrCodeDuplicateRoomName      = "DUPLICATE_ROOM_NAME"
	ErrCodeUserNotFound           = "USER_NOT_FOUND"
	ErrCodeInternal               = "INTERNAL_ERROR"
)

// NewAuthenticationRequiredError は未認証の接続・リクエストに対するエラーを生成する。
func NewAuthenticationRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthenticationRequired,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "authenticateイベントでトークンを送信してください。",
	}
}

// NewInvalidCredentialError は無効なトークン・パスワードに対するエラーを生成する。
func NewInvalidCredentialError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredential,
		Message:  fmt.Sprintf("認証情報が無効です: %s", reason),
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewAlreadyAuthenticatedError は認証済み接続の再認証に対するエラーを生成する。
func NewAlreadyAuthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyAuthenticated,
		Message:  "この接続は既に認証されています。",
		Category: "auth",
		Action:   "別のユーザーで利用する場合は再接続してください。",
	}
}

// NewRoomNotFoundError はルーム未検出エラーを生成する。
func NewRoomNotFoundError(roomID string) *APIError {
	return &APIError{
		Code:     ErrCodeRoomNotFound,
		Message:  fmt.Sprintf("指定されたルームが見つかりません: %s", roomID),
		Category: "room",
		Action:   "ルームIDを確認してください。",
	}
}

// NewInvalidRoomCodeError は参加コードが解決できない場合のエラーを生成する。
func NewInvalidRoomCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRoomCode,
		Message:  "参加コードに一致するルームが見つかりません。",
		Category: "room",
		Action:   "8文字の参加コード（英大文字と数字）を確認してください。",
	}
}

// NewAccessDeniedError はプライベートルームへの非メンバーのアクセスに対するエラーを生成する。
func NewAccessDeniedError() *APIError {
	return &APIError{
		Code:     ErrCodeAccessDenied,
		Message:  "このルームへのアクセス権がありません。",
		Category: "room",
		Action:   "参加コードを使ってルームに参加してください。",
	}
}

// NewValidationError は入力値の検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力値が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewPersistenceFailureError は永続化層の障害に対するエラーを生成する。
// 詳細はログにのみ記録し、クライアントには一般的なメッセージを返す。
func NewPersistenceFailureError() *APIError {
	return &APIError{
		Code:     ErrCodePersistenceFailure,
		Message:  "データの保存に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "送信回数の上限に達しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewDuplicateAccountError はユーザー名またはメールアドレスの重複エラーを生成する。
func NewDuplicateAccountError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateAccount,
		Message:  "ユーザー名またはメールアドレスは既に使用されています。",
		Category: "validation",
		Action:   "別のユーザー名またはメールアドレスを指定してください。",
	}
}

// NewDuplicateRoomNameError はパブリックルーム名の重複エラーを生成する。
func NewDuplicateRoomNameError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateRoomName,
		Message:  fmt.Sprintf("同名のパブリックルームが既に存在します: %s", name),
		Category: "room",
		Action:   "別のルーム名を指定してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInternalError は分類できない内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
