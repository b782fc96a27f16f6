package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/carelink/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの共通形式。
// フロントエンドはcodeで分岐し、messageとactionをそのまま表示する。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
	// RetryAfter は再試行までの秒数。429の場合のみ設定する。
	RetryAfter int `json:"retry_after,omitempty"`
}

func newErrorResponseBody(apiErr *model.APIError) ErrorResponseBody {
	return ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}
}

func writeJSONError(w http.ResponseWriter, statusCode int, body ErrorResponseBody) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// WriteErrorResponse はAPIErrorを共通形式で書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeJSONError(w, statusCode, newErrorResponseBody(apiErr))
}

// WriteTooManyRequests は429をRetry-Afterヘッダー付きで書き込む。
// retryAfterは秒単位に切り上げ、最小1秒とする。
func WriteTooManyRequests(w http.ResponseWriter, retryAfter time.Duration, apiErr *model.APIError) {
	seconds := retryAfterSeconds(retryAfter)
	w.Header().Set("Retry-After", strconv.Itoa(seconds))

	body := newErrorResponseBody(apiErr)
	body.RetryAfter = seconds
	writeJSONError(w, http.StatusTooManyRequests, body)
}

func retryAfterSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

// WriteInternalServerError は500を書き込む。原因はログにだけ残し、レスポンスには含めない。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "An internal error occurred.",
		Category: "system",
		Action:   "Please wait a moment and try again.",
	})
}
