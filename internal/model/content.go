package model

import "time"

// Story はユーザーが共有する体験談を表す。
// Bodyはサニタイズ済みのHTML。
type Story struct {
	ID        string
	UserID    string
	Title     string
	Body      string
	CreatedAt time.Time
}

// Plan は有料プランの種類を表す。
type Plan string

const (
	// PlanBasic はベーシックプラン。
	PlanBasic Plan = "basic"
	// PlanPremium はプレミアムプラン。
	PlanPremium Plan = "premium"
)

// Valid はプランが定義済みの値かどうかを返す。
func (p Plan) Valid() bool {
	return p == PlanBasic || p == PlanPremium
}

// SubscriptionStatus はプラン契約の状態を表す。
type SubscriptionStatus string

const (
	// SubscriptionActive は有効な契約。
	SubscriptionActive SubscriptionStatus = "active"
	// SubscriptionCanceled は解約済みの契約。
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// PlanSubscription はユーザーのプラン契約を表す。ユーザーごとに1件。
type PlanSubscription struct {
	UserID    string
	Plan      Plan
	Status    SubscriptionStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message は介護者へのメッセージを表す。
type Message struct {
	ID          string
	SenderID    string
	RecipientID string
	Body        string
	CreatedAt   time.Time
}

// BookingRequest は介護者への予約リクエストを表す。
type BookingRequest struct {
	ID             string
	RequesterID    string
	ProfessionalID string
	Note           string
	Status         string
	CreatedAt      time.Time
}
