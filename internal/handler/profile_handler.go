package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/carelink/internal/model"
	"github.com/hitoshi/carelink/internal/profile"
)

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	Get(ctx context.Context, userID string) (*model.Profile, error)
	Update(ctx context.Context, userID string, patch model.ProfilePatch) (*profile.UpdateResult, error)
}

// ProfileHandler はプロフィールのHTTPハンドラー。
// プロフィール更新は登録完了ページそのものなので、ゲートを通さずに直接実行する。
type ProfileHandler struct {
	service ProfileServiceInterface
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{service: service}
}

// updateProfileResponse はプロフィール更新のAPIレスポンス。
type updateProfileResponse struct {
	Profile        profileResponse `json:"profile"`
	BecameComplete bool            `json:"became_complete"`
}

// Get はログインユーザーのプロフィールを返す。
// GET /api/profile
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	p, err := h.service.Get(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

// Update はプロフィールを部分更新する。
// PATCH /api/profile
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var patch model.ProfilePatch
	if !decodeJSON(w, r, &patch) {
		return
	}

	res, err := h.service.Update(r.Context(), userID, patch)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updateProfileResponse{
		Profile:        toProfileResponse(res.Profile),
		BecameComplete: res.BecameComplete,
	})
}
