package handler

import (
	"time"

	"github.com/hitoshi/carelink/internal/action"
	"github.com/hitoshi/carelink/internal/model"
	"github.com/hitoshi/carelink/internal/profile"
)

// featureResponse は機能リクエストのAPIレスポンス。
type featureResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	VoteCount   int       `json:"vote_count"`
	VotedByMe   bool      `json:"voted_by_me"`
	CreatedAt   time.Time `json:"created_at"`
}

func toFeatureResponse(f *model.FeatureWithVotes) featureResponse {
	return featureResponse{
		ID:          f.ID,
		Title:       f.Title,
		Description: f.Description,
		Status:      f.Status,
		VoteCount:   f.VoteCount,
		VotedByMe:   f.VotedByMe,
		CreatedAt:   f.CreatedAt,
	}
}

// storyResponse は体験談のAPIレスポンス。Bodyはサニタイズ済みHTML。
type storyResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

func toStoryResponse(s *model.Story) storyResponse {
	return storyResponse{
		ID:        s.ID,
		UserID:    s.UserID,
		Title:     s.Title,
		Body:      s.Body,
		CreatedAt: s.CreatedAt,
	}
}

// planSubscriptionResponse はプラン契約のAPIレスポンス。
type planSubscriptionResponse struct {
	Plan      string    `json:"plan"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toPlanSubscriptionResponse(s *model.PlanSubscription) planSubscriptionResponse {
	return planSubscriptionResponse{
		Plan:      string(s.Plan),
		Status:    string(s.Status),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

type messageResponse struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipient_id"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

type bookingResponse struct {
	ID             string    `json:"id"`
	ProfessionalID string    `json:"professional_id"`
	Note           string    `json:"note"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// profileResponse はプロフィールのAPIレスポンス。
type profileResponse struct {
	UserID           string    `json:"user_id"`
	Role             string    `json:"role"`
	FullName         string    `json:"full_name"`
	ProfessionalType string    `json:"professional_type,omitempty"`
	CareServices     []string  `json:"care_services"`
	CareRecipient    string    `json:"care_recipient,omitempty"`
	Location         string    `json:"location,omitempty"`
	Bio              string    `json:"bio,omitempty"`
	AvatarURL        string    `json:"avatar_url,omitempty"`
	Complete         bool      `json:"profile_complete"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func toProfileResponse(p *model.Profile) profileResponse {
	services := p.CareServices
	if services == nil {
		services = []string{}
	}
	return profileResponse{
		UserID:           p.UserID,
		Role:             string(p.Role),
		FullName:         p.FullName,
		ProfessionalType: p.ProfessionalType,
		CareServices:     services,
		CareRecipient:    p.CareRecipient,
		Location:         p.Location,
		Bio:              p.Bio,
		AvatarURL:        p.AvatarURL,
		Complete:         model.IsProfileComplete(p),
		UpdatedAt:        p.UpdatedAt,
	}
}

// actionResultResponse はアクション実行結果のAPIレスポンス。
type actionResultResponse struct {
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// toActionResultResponse はハンドラーの結果をAPIレスポンスに変換する。
func toActionResultResponse(res action.Result) actionResultResponse {
	return actionResultResponse{Message: res.Message, Data: toResponseData(res.Data)}
}

// toResponseData はドメインモデルを対応するレスポンス型に変換する。未知の型はそのまま返す。
func toResponseData(v any) any {
	switch d := v.(type) {
	case *model.FeatureWithVotes:
		return toFeatureResponse(d)
	case *model.Story:
		return toStoryResponse(d)
	case *model.PlanSubscription:
		return toPlanSubscriptionResponse(d)
	case *model.Message:
		return messageResponse{ID: d.ID, RecipientID: d.RecipientID, Body: d.Body, CreatedAt: d.CreatedAt}
	case *model.BookingRequest:
		return bookingResponse{ID: d.ID, ProfessionalID: d.ProfessionalID, Note: d.Note, Status: d.Status, CreatedAt: d.CreatedAt}
	case *profile.UpdateResult:
		return toProfileResponse(d.Profile)
	default:
		return v
	}
}
