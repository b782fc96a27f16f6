package model

import "time"

// FeatureRequest は投票対象の機能リクエストを表す。
type FeatureRequest struct {
	ID          string
	Title       string
	Description string
	Status      string
	CreatedAt   time.Time
}

// FeatureWithVotes は機能リクエストと投票集計を結合した構造体。
type FeatureWithVotes struct {
	FeatureRequest
	VoteCount int
	VotedByMe bool
}

// Vote は機能リクエストへの投票を表す。
// (FeatureID, UserID) の組で一意。
type Vote struct {
	FeatureID string
	UserID    string
	CreatedAt time.Time
}
