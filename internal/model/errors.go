// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, engagement, subscription, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
	ErrCodeInvalidActionKind     = "INVALID_ACTION_KIND"
	ErrCodeInvalidReturnPath     = "INVALID_RETURN_PATH"
	ErrCodeDuplicateVote         = "DUPLICATE_VOTE"
	ErrCodeVoteNotFound          = "VOTE_NOT_FOUND"
	ErrCodeFeatureNotFound       = "FEATURE_NOT_FOUND"
	ErrCodeProfileNotFound       = "PROFILE_NOT_FOUND"
	ErrCodeInvalidProfile        = "INVALID_PROFILE"
	ErrCodeInvalidAvatar         = "INVALID_AVATAR"
	ErrCodeEmptyContent          = "EMPTY_CONTENT"
	ErrCodeInvalidPlan           = "INVALID_PLAN"
	ErrCodeSubscriptionRequired  = "SUBSCRIPTION_REQUIRED"
	ErrCodeSubscriptionNotFound  = "SUBSCRIPTION_NOT_FOUND"
	ErrCodeRecipientNotFound     = "RECIPIENT_NOT_FOUND"
	ErrCodeUnsupportedActionKind = "UNSUPPORTED_ACTION_KIND"
	ErrCodeUserNotFound          = "USER_NOT_FOUND"
	ErrCodeEmailNotVerified      = "EMAIL_NOT_VERIFIED"
)

// NewUnauthorizedError は認証が必要な場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Authentication is required.",
		Category: "auth",
		Action:   "Please sign in and try again.",
	}
}

// NewInvalidRequestError はリクエストボディが不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("The request could not be processed: %s", reason),
		Category: "validation",
		Action:   "Check the request body and try again.",
	}
}

// NewInvalidActionKindError は未知のアクション種別が指定された場合のエラーを生成する。
func NewInvalidActionKindError(kind string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidActionKind,
		Message:  fmt.Sprintf("Unknown action kind: %s", kind),
		Category: "validation",
		Action:   "Use one of vote, story, booking, message, profile_update or subscribe.",
	}
}

// NewInvalidReturnPathError は戻り先パスがアプリ内パスでない場合のエラーを生成する。
func NewInvalidReturnPathError(path string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidReturnPath,
		Message:  fmt.Sprintf("Return path must be an in-app path: %s", path),
		Category: "validation",
		Action:   "Specify a path that starts with a single slash.",
	}
}

// NewDuplicateVoteError は同一機能への二重投票のエラーを生成する。
// 一意制約違反として検出され、汎用エラーとは区別して表示する。
func NewDuplicateVoteError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateVote,
		Message:  "You have already voted for this feature",
		Category: "engagement",
		Action:   "Your earlier vote is still counted.",
	}
}

// NewVoteNotFoundError は取り消し対象の投票が存在しない場合のエラーを生成する。
func NewVoteNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeVoteNotFound,
		Message:  "You have not voted for this feature.",
		Category: "engagement",
		Action:   "Refresh the page to see your current votes.",
	}
}

// NewFeatureNotFoundError は機能リクエストが見つからない場合のエラーを生成する。
func NewFeatureNotFoundError(featureID string) *APIError {
	return &APIError{
		Code:     ErrCodeFeatureNotFound,
		Message:  fmt.Sprintf("Feature not found: %s", featureID),
		Category: "engagement",
		Action:   "Check the feature ID.",
	}
}

// NewProfileNotFoundError はプロフィールが見つからない場合のエラーを生成する。
func NewProfileNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileNotFound,
		Message:  "Profile not found.",
		Category: "profile",
		Action:   "Complete your registration first.",
	}
}

// NewInvalidProfileError はプロフィールの入力値が不正な場合のエラーを生成する。
func NewInvalidProfileError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidProfile,
		Message:  fmt.Sprintf("Invalid profile: %s", reason),
		Category: "validation",
		Action:   "Correct the highlighted fields and save again.",
	}
}

// NewInvalidAvatarError はアバターURLの検証に失敗した場合のエラーを生成する。
func NewInvalidAvatarError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAvatar,
		Message:  fmt.Sprintf("The avatar URL could not be used: %s", reason),
		Category: "validation",
		Action:   "Use a publicly reachable https image URL.",
	}
}

// NewEmptyContentError は本文が空の投稿・メッセージのエラーを生成する。
func NewEmptyContentError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeEmptyContent,
		Message:  fmt.Sprintf("%s must not be empty.", field),
		Category: "validation",
		Action:   "Enter some text and try again.",
	}
}

// NewInvalidPlanError は未知のプランが指定された場合のエラーを生成する。
func NewInvalidPlanError(plan string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPlan,
		Message:  fmt.Sprintf("Unknown plan: %s", plan),
		Category: "subscription",
		Action:   "Choose the basic or premium plan.",
	}
}

// NewSubscriptionRequiredError は有効なプラン契約が必要な操作のエラーを生成する。
func NewSubscriptionRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionRequired,
		Message:  "An active subscription is required for this action.",
		Category: "subscription",
		Action:   "Subscribe to a plan to contact caregivers.",
	}
}

// NewSubscriptionNotFoundError はプラン契約が見つからない場合のエラーを生成する。
func NewSubscriptionNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionNotFound,
		Message:  "No subscription found.",
		Category: "subscription",
		Action:   "Subscribe to a plan first.",
	}
}

// NewRecipientNotFoundError は宛先の介護者が見つからない場合のエラーを生成する。
func NewRecipientNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeRecipientNotFound,
		Message:  fmt.Sprintf("Caregiver not found: %s", id),
		Category: "validation",
		Action:   "Pick a caregiver from the directory.",
	}
}

// NewUnsupportedActionKindError はハンドラー未登録のアクション種別のエラーを生成する。
func NewUnsupportedActionKindError(kind ActionKind) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedActionKind,
		Message:  fmt.Sprintf("Action %s cannot be performed here.", kind),
		Category: "validation",
		Action:   "Open the page for this action and try again.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found.",
		Category: "auth",
		Action:   "Please sign in again.",
	}
}

// NewEmailNotVerifiedError はIdP側でメールアドレスが未確認の場合のエラーを生成する。
// 予約や問い合わせの通知先になるため、未確認のアドレスではログインさせない。
func NewEmailNotVerifiedError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailNotVerified,
		Message:  "Your Google account email address is not verified.",
		Category: "auth",
		Action:   "Verify your email address with Google and sign in again.",
	}
}
