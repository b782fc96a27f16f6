package handler

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/carelink/internal/middleware"
	"github.com/hitoshi/carelink/internal/model"
)

const maxActionTypeLength = 64

// EngagementHandler はエンゲージメント記録のHTTPハンドラー。
type EngagementHandler struct {
	tracker  EngagementTracker
	cooldown Cooldown
}

// NewEngagementHandler はEngagementHandlerを生成する。cooldownはnilでもよい。
func NewEngagementHandler(tracker EngagementTracker, cooldown Cooldown) *EngagementHandler {
	return &EngagementHandler{
		tracker:  tracker,
		cooldown: cooldown,
	}
}

// trackRequest はエンゲージメント記録のリクエストボディ。
type trackRequest struct {
	ActionType     string          `json:"action_type"`
	FeatureName    string          `json:"feature_name"`
	AdditionalData json.RawMessage `json:"additional_data"`
}

// Track はエンゲージメントイベントを記録する。
// POST /api/engagement
//
// 記録は呼び出し元の処理を妨げないため、不正なイベントや抑止したイベントも含めて常に202を返す。
func (h *EngagementHandler) Track(w http.ResponseWriter, r *http.Request) {
	defer w.WriteHeader(http.StatusAccepted)

	var req trackRequest
	r.Body = http.MaxBytesReader(w, r.Body, 16<<10)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return
	}
	if req.ActionType == "" || len(req.ActionType) > maxActionTypeLength {
		return
	}
	if len(req.AdditionalData) > 0 && !json.Valid(req.AdditionalData) {
		return
	}

	ctx := r.Context()
	clientID := middleware.ClientIDFromContext(ctx)
	if h.cooldown != nil && !h.cooldown.Allow(clientID+":"+req.ActionType+":"+req.FeatureName) {
		return
	}

	userID, _ := middleware.UserIDFromContext(ctx)
	h.tracker.Track(ctx, model.EngagementEvent{
		ActionType:     req.ActionType,
		SessionID:      clientID,
		UserID:         userID,
		FeatureName:    req.FeatureName,
		AdditionalData: req.AdditionalData,
	})
}
