package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActionKind はゲート対象のアクション種別を表す。
// 値は閉じた列挙であり、ParseActionKind 以外の経路で生成しないこと。
type ActionKind string

const (
	// ActionVote は機能リクエストへの投票。
	ActionVote ActionKind = "vote"
	// ActionStory は体験談の投稿。
	ActionStory ActionKind = "story"
	// ActionBooking は介護者への予約リクエスト。
	ActionBooking ActionKind = "booking"
	// ActionMessage は介護者へのメッセージ送信。
	ActionMessage ActionKind = "message"
	// ActionProfileUpdate はプロフィール更新（登録完了）。
	ActionProfileUpdate ActionKind = "profile_update"
	// ActionSubscribe は有料プランの契約。
	ActionSubscribe ActionKind = "subscribe"
)

// AllActionKinds は定義済みの全アクション種別を返す。
func AllActionKinds() []ActionKind {
	return []ActionKind{
		ActionVote,
		ActionStory,
		ActionBooking,
		ActionMessage,
		ActionProfileUpdate,
		ActionSubscribe,
	}
}

// ParseActionKind は文字列をActionKindに変換する。未知の値はエラーを返す。
func ParseActionKind(s string) (ActionKind, error) {
	for _, k := range AllActionKinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown action kind: %q", s)
}

// Action はユーザーが実行しようとしたゲート対象のアクションを表す。
type Action struct {
	Kind       ActionKind      `json:"kind"`
	TargetID   string          `json:"target_id"`
	ReturnPath string          `json:"return_path"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// PendingIntent はゲート通過後に再実行する保留アクションを表す。
// (ClientID, Kind) ごとに最大1件であり、同じ種別の書き込みは上書きする。
type PendingIntent struct {
	ID         string
	ClientID   string
	Kind       ActionKind
	TargetID   string
	ReturnPath string
	Payload    json.RawMessage
	CreatedAt  time.Time
}

// Action は保留アクションを元のActionとして復元する。
func (p *PendingIntent) Action() Action {
	return Action{
		Kind:       p.Kind,
		TargetID:   p.TargetID,
		ReturnPath: p.ReturnPath,
		Payload:    p.Payload,
	}
}
