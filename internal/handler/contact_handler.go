package handler

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/carelink/internal/model"
)

// ContactHandler は介護者へのメッセージと予約リクエストのHTTPハンドラー。
// いずれもゲート評価を経て実行する。
type ContactHandler struct {
	actions *ActionHandler
}

// NewContactHandler はContactHandlerを生成する。
func NewContactHandler(actions *ActionHandler) *ContactHandler {
	return &ContactHandler{actions: actions}
}

type sendMessageRequest struct {
	RecipientID string `json:"recipient_id"`
	Body        string `json:"body"`
	ReturnPath  string `json:"return_path"`
}

type requestBookingRequest struct {
	ProfessionalID string `json:"professional_id"`
	Note           string `json:"note"`
	ReturnPath     string `json:"return_path"`
}

// SendMessage は介護者にメッセージを送る。
// POST /api/messages
func (h *ContactHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RecipientID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("recipient_id is required"))
		return
	}

	payload, _ := json.Marshal(map[string]string{"body": req.Body})
	h.actions.perform(w, r, model.Action{
		Kind:       model.ActionMessage,
		TargetID:   req.RecipientID,
		ReturnPath: withDefault(req.ReturnPath, "/caregivers/"+req.RecipientID),
		Payload:    payload,
	})
}

// RequestBooking は介護者に予約をリクエストする。
// POST /api/bookings
func (h *ContactHandler) RequestBooking(w http.ResponseWriter, r *http.Request) {
	var req requestBookingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ProfessionalID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("professional_id is required"))
		return
	}

	payload, _ := json.Marshal(map[string]string{"note": req.Note})
	h.actions.perform(w, r, model.Action{
		Kind:       model.ActionBooking,
		TargetID:   req.ProfessionalID,
		ReturnPath: withDefault(req.ReturnPath, "/caregivers/"+req.ProfessionalID),
		Payload:    payload,
	})
}
