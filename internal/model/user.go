// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの利用区分を表す。
// 空文字列はロール未取得（不明）を意味する。
type Role string

const (
	// RoleFamily は介護を依頼する家族ユーザー。
	RoleFamily Role = "family"
	// RoleProfessional は介護職ユーザー。
	RoleProfessional Role = "professional"
	// RoleCommunity はコミュニティメンバー。
	RoleCommunity Role = "community"
	// RoleAdmin は管理者。
	RoleAdmin Role = "admin"
)

// Valid はロールが定義済みの値かどうかを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleFamily, RoleProfessional, RoleCommunity, RoleAdmin:
		return true
	default:
		return false
	}
}

// User はサービス利用ユーザーを表す。
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity は外部IdPとの紐付け情報を表す。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
	// LastLoginAt は最後にこのIdPでログインした時刻。未記録ならnil。
	LastLoginAt *time.Time
}

// Session はユーザーのログインセッションを表す。
// Email と Role は読み出し時に users / profiles から補完される。
// Role が空の場合はロール取得に失敗したか、プロフィール未作成である。
type Session struct {
	ID        string
	UserID    string
	Email     string
	Role      Role
	ExpiresAt time.Time
	CreatedAt time.Time
}
