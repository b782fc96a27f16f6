package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/carelink/internal/middleware"
	"github.com/hitoshi/carelink/internal/model"
	"github.com/hitoshi/carelink/internal/replay"
)

// IntentStore はハンドラーが使う保留アクション操作。intent.Intentsが実装する。
type IntentStore interface {
	GetPendingIntent(ctx context.Context, clientID string, kind model.ActionKind) *model.PendingIntent
	ClearPendingIntent(ctx context.Context, clientID string, kind model.ActionKind)
	ListPendingIntents(ctx context.Context, clientID string) []*model.PendingIntent
}

// ReplayDispatcher は保留アクションの再実行。replay.Dispatcherが実装する。
type ReplayDispatcher interface {
	Dispatch(ctx context.Context, clientID, userID string, page replay.Page) (replay.Result, error)
	Attach(src replay.TransitionSource, clientID string, page replay.Page, onResult func(replay.Result, error)) (detach func())
}

// IntentHandler は保留アクション関連のHTTPハンドラー。
type IntentHandler struct {
	intents    IntentStore
	dispatcher ReplayDispatcher
	observer   SessionObserver
}

// NewIntentHandler はIntentHandlerを生成する。
func NewIntentHandler(intents IntentStore, dispatcher ReplayDispatcher, observer SessionObserver) *IntentHandler {
	return &IntentHandler{
		intents:    intents,
		dispatcher: dispatcher,
		observer:   observer,
	}
}

// intentResponse は保留アクションのAPIレスポンス。
type intentResponse struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	TargetID   string          `json:"target_id"`
	ReturnPath string          `json:"return_path"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func toIntentResponse(p *model.PendingIntent) intentResponse {
	return intentResponse{
		ID:         p.ID,
		Kind:       string(p.Kind),
		TargetID:   p.TargetID,
		ReturnPath: p.ReturnPath,
		Payload:    p.Payload,
		CreatedAt:  p.CreatedAt,
	}
}

// replayRequest は再実行チェックのリクエストボディ。
type replayRequest struct {
	Kind     string `json:"kind"`
	TargetID string `json:"target_id"`
}

// replayResponse は再実行チェックのAPIレスポンス。
type replayResponse struct {
	Outcome string                `json:"outcome"`
	Message string                `json:"message,omitempty"`
	Result  *actionResultResponse `json:"result,omitempty"`
}

func toReplayResponse(res replay.Result) replayResponse {
	resp := replayResponse{Outcome: string(res.Outcome), Message: res.Message}
	if res.Outcome == replay.OutcomeReplayed {
		result := toActionResultResponse(res.Action)
		resp.Result = &result
	}
	return resp
}

// List はクライアントの保留アクション一覧を返す。
// GET /api/intents
func (h *IntentHandler) List(w http.ResponseWriter, r *http.Request) {
	clientID := middleware.ClientIDFromContext(r.Context())
	pending := h.intents.ListPendingIntents(r.Context(), clientID)

	resp := make([]intentResponse, 0, len(pending))
	for _, p := range pending {
		resp = append(resp, toIntentResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get は指定種別の保留アクションを返す。
// GET /api/intents/{kind}
func (h *IntentHandler) Get(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseKindParam(w, r)
	if !ok {
		return
	}

	clientID := middleware.ClientIDFromContext(r.Context())
	pending := h.intents.GetPendingIntent(r.Context(), clientID, kind)
	if pending == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toIntentResponse(pending))
}

// Clear は指定種別の保留アクションを削除する。存在しなくても204を返す。
// DELETE /api/intents/{kind}
func (h *IntentHandler) Clear(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseKindParam(w, r)
	if !ok {
		return
	}

	clientID := middleware.ClientIDFromContext(r.Context())
	h.intents.ClearPendingIntent(r.Context(), clientID, kind)
	w.WriteHeader(http.StatusNoContent)
}

// Replay はページの対象に一致する保留アクションを再実行する。
// POST /api/intents/replay
//
// 再実行の失敗はoutcome=failedとして200で返す。保留アクションは削除済み。
func (h *IntentHandler) Replay(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	kind, err := model.ParseActionKind(req.Kind)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidActionKindError(req.Kind))
		return
	}

	snap := resolveClientState(r, h.observer)
	if snap.Session == nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	clientID := middleware.ClientIDFromContext(r.Context())
	res, err := h.dispatcher.Dispatch(r.Context(), clientID, snap.Session.UserID, replay.Page{
		Kind:     kind,
		TargetID: req.TargetID,
	})
	if err != nil {
		slog.Info("replay finished with error",
			slog.String("client_id", clientID),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, http.StatusOK, toReplayResponse(res))
}

func parseKindParam(w http.ResponseWriter, r *http.Request) (model.ActionKind, bool) {
	raw := chi.URLParam(r, "kind")
	kind, err := model.ParseActionKind(raw)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidActionKindError(raw))
		return "", false
	}
	return kind, true
}
