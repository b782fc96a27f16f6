package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/carelink/internal/action"
	"github.com/hitoshi/carelink/internal/gate"
	"github.com/hitoshi/carelink/internal/middleware"
	"github.com/hitoshi/carelink/internal/model"
)

// GateEvaluator はアクションのゲート評価。gate.Evaluatorが実装する。
type GateEvaluator interface {
	Evaluate(ctx context.Context, clientID string, act model.Action, sess *model.Session, profileComplete bool) gate.Decision
}

// ActionExecutor はアクションの実行。action.Registryが実装する。
type ActionExecutor interface {
	Execute(ctx context.Context, inv action.Invocation) (action.Result, error)
}

// EngagementTracker はエンゲージメントイベントの記録。engagement.Recorderが実装する。
type EngagementTracker interface {
	Track(ctx context.Context, event model.EngagementEvent)
}

// ActionHandler はゲート対象アクションのHTTPハンドラー。
type ActionHandler struct {
	gate     GateEvaluator
	executor ActionExecutor
	observer SessionObserver
	tracker  EngagementTracker
}

// NewActionHandler はActionHandlerを生成する。trackerはnilでもよい。
func NewActionHandler(gate GateEvaluator, executor ActionExecutor, observer SessionObserver, tracker EngagementTracker) *ActionHandler {
	return &ActionHandler{
		gate:     gate,
		executor: executor,
		observer: observer,
		tracker:  tracker,
	}
}

// actionRequest はアクション実行リクエストのボディ。
type actionRequest struct {
	Kind       string          `json:"kind"`
	TargetID   string          `json:"target_id"`
	ReturnPath string          `json:"return_path"`
	Payload    json.RawMessage `json:"payload"`
}

// actionResponse はゲート評価結果のAPIレスポンス。
type actionResponse struct {
	Disposition string                `json:"disposition"`
	Location    string                `json:"location,omitempty"`
	State       *gate.NavigationState `json:"state,omitempty"`
	Result      *actionResultResponse `json:"result,omitempty"`
}

// Perform はアクションをゲート評価し、通過すれば実行する。
// POST /api/actions
//
//	200 {disposition: "allow", result}
//	401 {disposition: "redirect_to_auth", location}
//	403 {disposition: "redirect_to_profile_completion", location, state}
func (h *ActionHandler) Perform(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	kind, err := model.ParseActionKind(req.Kind)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidActionKindError(req.Kind))
		return
	}

	h.perform(w, r, model.Action{
		Kind:       kind,
		TargetID:   req.TargetID,
		ReturnPath: req.ReturnPath,
		Payload:    req.Payload,
	})
}

// perform はゲート評価と実行の共通処理。種別ごとのエンドポイントからも使う。
func (h *ActionHandler) perform(w http.ResponseWriter, r *http.Request, act model.Action) {
	if act.ReturnPath != "" && !gate.IsSafeReturnPath(act.ReturnPath) {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidReturnPathError(act.ReturnPath))
		return
	}

	ctx := r.Context()
	clientID := middleware.ClientIDFromContext(ctx)
	sess := middleware.SessionFromContext(ctx)
	snap := resolveClientState(r, h.observer)

	decision := h.gate.Evaluate(ctx, clientID, act, sess, snap.ProfileComplete)
	h.track(ctx, clientID, sess, act, decision.Disposition)

	switch decision.Disposition {
	case gate.RedirectToAuth:
		writeJSON(w, http.StatusUnauthorized, actionResponse{
			Disposition: string(decision.Disposition),
			Location:    decision.Location,
		})
	case gate.RedirectToProfileCompletion:
		writeJSON(w, http.StatusForbidden, actionResponse{
			Disposition: string(decision.Disposition),
			Location:    decision.Location,
			State:       decision.State,
		})
	default:
		res, err := h.executor.Execute(ctx, action.Invocation{
			UserID:   sess.UserID,
			ClientID: clientID,
			Action:   act,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}
		result := toActionResultResponse(res)
		writeJSON(w, http.StatusOK, actionResponse{
			Disposition: string(decision.Disposition),
			Result:      &result,
		})
	}
}

func (h *ActionHandler) track(ctx context.Context, clientID string, sess *model.Session, act model.Action, d gate.Disposition) {
	if h.tracker == nil {
		return
	}
	ev := model.EngagementEvent{
		ActionType:  "gate_" + string(d),
		SessionID:   clientID,
		FeatureName: string(act.Kind),
	}
	if sess != nil {
		ev.UserID = sess.UserID
	}
	h.tracker.Track(ctx, ev)
}
