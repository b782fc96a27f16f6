package model

import (
	"strings"
	"time"
)

// Profile はユーザーのプロフィールを表す。
// 必須項目はロールによって異なる。
type Profile struct {
	UserID           string
	Role             Role
	FullName         string
	ProfessionalType string
	CareServices     []string
	CareRecipient    string
	Location         string
	Bio              string
	AvatarURL        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ProfilePatch はプロフィールの部分更新を表す。
// nilのフィールドは変更しない。
type ProfilePatch struct {
	Role             *Role     `json:"role,omitempty"`
	FullName         *string   `json:"full_name,omitempty"`
	ProfessionalType *string   `json:"professional_type,omitempty"`
	CareServices     *[]string `json:"care_services,omitempty"`
	CareRecipient    *string   `json:"care_recipient,omitempty"`
	Location         *string   `json:"location,omitempty"`
	Bio              *string   `json:"bio,omitempty"`
	AvatarURL        *string   `json:"avatar_url,omitempty"`
}

// Apply はパッチをプロフィールに適用する。
func (p ProfilePatch) Apply(profile *Profile) {
	if p.Role != nil {
		profile.Role = *p.Role
	}
	if p.FullName != nil {
		profile.FullName = strings.TrimSpace(*p.FullName)
	}
	if p.ProfessionalType != nil {
		profile.ProfessionalType = strings.TrimSpace(*p.ProfessionalType)
	}
	if p.CareServices != nil {
		profile.CareServices = append([]string(nil), (*p.CareServices)...)
	}
	if p.CareRecipient != nil {
		profile.CareRecipient = strings.TrimSpace(*p.CareRecipient)
	}
	if p.Location != nil {
		profile.Location = strings.TrimSpace(*p.Location)
	}
	if p.Bio != nil {
		profile.Bio = *p.Bio
	}
	if p.AvatarURL != nil {
		profile.AvatarURL = strings.TrimSpace(*p.AvatarURL)
	}
}

// IsProfileComplete はロールごとの必須項目が揃っているかを判定する。
// 完了状態は永続化せず、プロフィールかセッションが変わるたびに再計算する。
//   - professional: full_name, professional_type, care_services（1件以上）
//   - family: full_name, care_recipient
//   - community: full_name
//   - admin: 常に完了
func IsProfileComplete(p *Profile) bool {
	if p == nil {
		return false
	}
	switch p.Role {
	case RoleAdmin:
		return true
	case RoleProfessional:
		return p.FullName != "" && p.ProfessionalType != "" && hasNonBlank(p.CareServices)
	case RoleFamily:
		return p.FullName != "" && p.CareRecipient != ""
	case RoleCommunity:
		return p.FullName != ""
	default:
		return false
	}
}

func hasNonBlank(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}
