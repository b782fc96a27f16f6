package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/carelink/internal/middleware"
	"github.com/hitoshi/carelink/internal/model"
)

// errCodeCooldown は短時間の重複送信を抑止したことを表す。
const errCodeCooldown = "COOLDOWN_ACTIVE"

// apiErrorResponse は統一エラーフォーマット。
type apiErrorResponse = middleware.ErrorResponseBody

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeInvalidRequest,
		model.ErrCodeInvalidActionKind,
		model.ErrCodeInvalidReturnPath,
		model.ErrCodeInvalidProfile,
		model.ErrCodeInvalidAvatar,
		model.ErrCodeEmptyContent,
		model.ErrCodeInvalidPlan:
		return http.StatusBadRequest
	case model.ErrCodeSubscriptionRequired:
		return http.StatusPaymentRequired
	case model.ErrCodeEmailNotVerified:
		return http.StatusForbidden
	case model.ErrCodeDuplicateVote:
		return http.StatusConflict
	case model.ErrCodeVoteNotFound,
		model.ErrCodeFeatureNotFound,
		model.ErrCodeProfileNotFound,
		model.ErrCodeSubscriptionNotFound,
		model.ErrCodeRecipientNotFound,
		model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeUnsupportedActionKind:
		return http.StatusUnprocessableEntity
	case errCodeCooldown:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON はリクエストボディをoutにデコードする。失敗時は400を書き込んでfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("request body must be valid JSON"))
		return false
	}
	return true
}

// requireUserID はコンテキストのユーザーIDを返す。未認証の場合は401を書き込んでfalseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

// newCooldownError は重複送信抑止のエラーを生成する。
func newCooldownError() *model.APIError {
	return &model.APIError{
		Code:     errCodeCooldown,
		Message:  "You just did that. Please wait a moment.",
		Category: "engagement",
		Action:   "Wait a second before trying again.",
	}
}

// decodeOptionalJSON はボディが空でなければoutにデコードする。失敗時は400を書き込んでfalseを返す。
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return true
	}
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("request body must be valid JSON"))
		return false
	}
	return true
}
