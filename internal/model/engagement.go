package model

import (
	"encoding/json"
	"time"
)

// EngagementEvent はユーザー操作の記録を表す。
// 追記専用であり、クライアントから更新・削除されることはない。
type EngagementEvent struct {
	ID             string          `json:"id"`
	ActionType     string          `json:"action_type"`
	SessionID      string          `json:"session_id"` // ブラウザコンテキスト単位の相関ID
	UserID         string          `json:"user_id,omitempty"`
	FeatureName    string          `json:"feature_name,omitempty"`
	AdditionalData json.RawMessage `json:"additional_data,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}
