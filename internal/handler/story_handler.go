package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/hitoshi/carelink/internal/model"
	"github.com/hitoshi/carelink/internal/story"
)

// StoryLister は体験談一覧の取得。story.Serviceが実装する。
type StoryLister interface {
	List(ctx context.Context, limit int) ([]*model.Story, error)
}

// StoryHandler は体験談のHTTPハンドラー。
type StoryHandler struct {
	stories StoryLister
	actions *ActionHandler
}

// NewStoryHandler はStoryHandlerを生成する。
func NewStoryHandler(stories StoryLister, actions *ActionHandler) *StoryHandler {
	return &StoryHandler{stories: stories, actions: actions}
}

// shareStoryRequest は体験談投稿のリクエストボディ。
type shareStoryRequest struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	ReturnPath string `json:"return_path"`
}

// List は新しい順に体験談を返す。
// GET /api/stories?limit=20
func (h *StoryHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("limit must be a number"))
			return
		}
		limit = n
	}

	stories, err := h.stories.List(r.Context(), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]storyResponse, 0, len(stories))
	for _, s := range stories {
		resp = append(resp, toStoryResponse(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Share は体験談を投稿する。ゲート評価はPOST /api/actionsと同じ。
// POST /api/stories
func (h *StoryHandler) Share(w http.ResponseWriter, r *http.Request) {
	var req shareStoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	payload, err := json.Marshal(story.ShareInput{Title: req.Title, Body: req.Body})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	h.actions.perform(w, r, model.Action{
		Kind:       model.ActionStory,
		ReturnPath: withDefault(req.ReturnPath, "/stories"),
		Payload:    payload,
	})
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
