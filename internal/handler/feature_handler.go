package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/carelink/internal/middleware"
	"github.com/hitoshi/carelink/internal/model"
	"github.com/hitoshi/carelink/internal/replay"
)

// defaultHeartbeatInterval はSSEストリームのハートビート間隔のデフォルト値。
const defaultHeartbeatInterval = 25 * time.Second

// FeatureServiceInterface は機能リクエストハンドラーが必要とするサービスインターフェース。
type FeatureServiceInterface interface {
	ListFeatures(ctx context.Context, userID string) ([]model.FeatureWithVotes, error)
	GetFeature(ctx context.Context, featureID, userID string) (*model.FeatureWithVotes, error)
	Retract(ctx context.Context, featureID, userID string) error
}

// FeatureFeed は機能リクエストごとの変更通知。vote.Feedが実装する。
type FeatureFeed interface {
	Subscribe(featureID string) (<-chan struct{}, func())
}

// Cooldown は短時間の重複送信を抑止する。engagement.Cooldownが実装する。
type Cooldown interface {
	Allow(key string) bool
	Window() time.Duration
}

// FeatureHandler は機能リクエストと投票のHTTPハンドラー。
type FeatureHandler struct {
	features   FeatureServiceInterface
	actions    *ActionHandler
	feed       FeatureFeed
	dispatcher ReplayDispatcher
	observer   SessionObserver
	cooldown   Cooldown
	heartbeat  time.Duration
}

// NewFeatureHandler はFeatureHandlerを生成する。feed、dispatcher、cooldownはnilでもよい。
func NewFeatureHandler(
	features FeatureServiceInterface,
	actions *ActionHandler,
	feed FeatureFeed,
	dispatcher ReplayDispatcher,
	observer SessionObserver,
	cooldown Cooldown,
) *FeatureHandler {
	return &FeatureHandler{
		features:   features,
		actions:    actions,
		feed:       feed,
		dispatcher: dispatcher,
		observer:   observer,
		cooldown:   cooldown,
		heartbeat:  defaultHeartbeatInterval,
	}
}

// List は機能リクエスト一覧を投票数付きで返す。
// GET /api/features
func (h *FeatureHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())

	features, err := h.features.ListFeatures(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]featureResponse, 0, len(features))
	for i := range features {
		resp = append(resp, toFeatureResponse(&features[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get は機能リクエストを返す。
// GET /api/features/{id}
func (h *FeatureHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())

	feature, err := h.features.GetFeature(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFeatureResponse(feature))
}

// voteRequest は投票リクエストのボディ。ボディは省略できる。
type voteRequest struct {
	ReturnPath string `json:"return_path"`
}

// Vote は機能リクエストに投票する。ゲート評価はPOST /api/actionsと同じ。
// POST /api/features/{id}/vote
func (h *FeatureHandler) Vote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}

	featureID := chi.URLParam(r, "id")
	clientID := middleware.ClientIDFromContext(r.Context())
	if h.cooldown != nil && !h.cooldown.Allow(clientID+":vote:"+featureID) {
		middleware.WriteTooManyRequests(w, h.cooldown.Window(), newCooldownError())
		return
	}

	returnPath := req.ReturnPath
	if returnPath == "" {
		returnPath = "/features/" + featureID
	}
	h.actions.perform(w, r, model.Action{
		Kind:       model.ActionVote,
		TargetID:   featureID,
		ReturnPath: returnPath,
	})
}

// Unvote は投票を取り消す。
// DELETE /api/features/{id}/vote
func (h *FeatureHandler) Unvote(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.features.Retract(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Events は機能リクエストの投票数の変化をServer-Sent Eventsで配信する。
// GET /api/features/{id}/events
//
// イベント:
//   - feature: 投票数を含む機能リクエスト（接続直後と変更通知ごと）
//   - replay: ログイン後やプロフィール完了後に保留中の投票が再実行された結果
func (h *FeatureHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	featureID := chi.URLParam(r, "id")
	userID, _ := middleware.UserIDFromContext(ctx)

	feature, err := h.features.GetFeature(ctx, featureID, userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	rc := http.NewResponseController(w)
	// サーバーのWriteTimeoutを解除する。未対応のResponseWriterでは無視する。
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, rc, "feature", toFeatureResponse(feature)); err != nil {
		return
	}

	var changes <-chan struct{}
	if h.feed != nil {
		ch, unsubscribe := h.feed.Subscribe(featureID)
		defer unsubscribe()
		changes = ch
	}

	replays := make(chan replay.Result, 1)
	if h.dispatcher != nil && h.observer != nil {
		clientID := middleware.ClientIDFromContext(ctx)
		page := replay.Page{Kind: model.ActionVote, TargetID: featureID}
		detach := h.dispatcher.Attach(h.observer, clientID, page, func(res replay.Result, _ error) {
			if res.Outcome == replay.OutcomeNone || res.Outcome == replay.OutcomeMismatch {
				return
			}
			select {
			case replays <- res:
			default:
			}
		})
		defer detach()
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case <-changes:
			feature, ferr := h.features.GetFeature(ctx, featureID, userID)
			if ferr != nil {
				slog.Warn("failed to refresh feature for stream",
					slog.String("feature_id", featureID),
					slog.String("error", ferr.Error()),
				)
				continue
			}
			err = writeEvent(w, rc, "feature", toFeatureResponse(feature))
		case res := <-replays:
			err = writeEvent(w, rc, "replay", toReplayResponse(res))
		case <-ticker.C:
			if _, err = fmt.Fprint(w, ": ping\n\n"); err == nil {
				err = rc.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

// writeEvent はSSEのイベントを1件書き込んでフラッシュする。
func writeEvent(w http.ResponseWriter, rc *http.ResponseController, name string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, b); err != nil {
		return err
	}
	return rc.Flush()
}
