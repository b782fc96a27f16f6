package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/carelink/internal/model"
)

// SubscriptionServiceInterface はプラン契約ハンドラーが必要とするサービスインターフェース。
type SubscriptionServiceInterface interface {
	Get(ctx context.Context, userID string) (*model.PlanSubscription, error)
	Cancel(ctx context.Context, userID string) (*model.PlanSubscription, error)
}

// SubscriptionHandler はプラン契約のHTTPハンドラー。
type SubscriptionHandler struct {
	service SubscriptionServiceInterface
	actions *ActionHandler
}

// NewSubscriptionHandler はSubscriptionHandlerを生成する。
func NewSubscriptionHandler(service SubscriptionServiceInterface, actions *ActionHandler) *SubscriptionHandler {
	return &SubscriptionHandler{service: service, actions: actions}
}

// subscribeRequest はプラン契約のリクエストボディ。
type subscribeRequest struct {
	Plan       string `json:"plan"`
	ReturnPath string `json:"return_path"`
}

// Get は現在の契約を返す。
// GET /api/subscription
func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	sub, err := h.service.Get(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanSubscriptionResponse(sub))
}

// Subscribe はプランを契約する。ゲート評価はPOST /api/actionsと同じ。
// POST /api/subscription
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !model.Plan(req.Plan).Valid() {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidPlanError(req.Plan))
		return
	}

	h.actions.perform(w, r, model.Action{
		Kind:       model.ActionSubscribe,
		TargetID:   req.Plan,
		ReturnPath: withDefault(req.ReturnPath, "/pricing"),
	})
}

// Cancel は契約を解約する。
// DELETE /api/subscription
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	sub, err := h.service.Cancel(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanSubscriptionResponse(sub))
}
