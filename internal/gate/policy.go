package gate

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/carelink/internal/model"
)

//go:embed default_policy.yaml
var defaultPolicyYAML []byte

// KindPolicy はアクション種別ごとのゲート設定。
type KindPolicy struct {
	RequiresProfile bool `yaml:"requires_profile"`
}

// RolePolicy はロールごとの遷移先設定。
type RolePolicy struct {
	// Destination はログイン直後の既定の遷移先。
	Destination string `yaml:"destination"`
	// CompletionPath はプロフィール登録画面のパス。
	CompletionPath string `yaml:"completion_path"`
}

// Policy はゲート評価と遷移先の設定。
type Policy struct {
	AuthPath              string                          `yaml:"auth_path"`
	DefaultDestination    string                          `yaml:"default_destination"`
	DefaultCompletionPath string                          `yaml:"default_completion_path"`
	Kinds                 map[model.ActionKind]KindPolicy `yaml:"kinds"`
	Roles                 map[model.Role]RolePolicy       `yaml:"roles"`
}

// DefaultPolicy は組み込みの既定ポリシーを返す。
func DefaultPolicy() *Policy {
	p, err := ParsePolicy(defaultPolicyYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded gate policy is invalid: %v", err))
	}
	return p
}

// LoadPolicy はYAMLファイルからポリシーを読み込む。pathが空の場合は既定ポリシーを返す。
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gate policy file: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy はYAMLをポリシーとして解釈し検証する。未知のフィールドはエラーとする。
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to parse gate policy: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("invalid gate policy: %w", err)
	}
	return &p, nil
}

func (p *Policy) validate() error {
	if !IsSafeReturnPath(p.AuthPath) {
		return fmt.Errorf("auth_path must be an in-app path: %q", p.AuthPath)
	}
	if p.DefaultDestination == "" {
		p.DefaultDestination = "/"
	}
	if p.DefaultCompletionPath == "" {
		p.DefaultCompletionPath = "/onboarding"
	}
	for kind := range p.Kinds {
		if _, err := model.ParseActionKind(string(kind)); err != nil {
			return err
		}
	}
	for role, rp := range p.Roles {
		if !role.Valid() {
			return fmt.Errorf("unknown role: %q", role)
		}
		if rp.Destination != "" && !IsSafeReturnPath(rp.Destination) {
			return fmt.Errorf("destination for %s must be an in-app path: %q", role, rp.Destination)
		}
		if rp.CompletionPath != "" && !IsSafeReturnPath(rp.CompletionPath) {
			return fmt.Errorf("completion_path for %s must be an in-app path: %q", role, rp.CompletionPath)
		}
	}
	return nil
}

// CheckHandlers はポリシーに記載された全ての種別にハンドラーがあるかを確認する。
// 実行できない種別をゲートで受け付けると、保留アクションが再実行されずに残り続ける。
func (p *Policy) CheckHandlers(registered func(model.ActionKind) bool) error {
	var missing []string
	for kind := range p.Kinds {
		if !registered(kind) {
			missing = append(missing, string(kind))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("gate policy lists kinds without a handler: %s", strings.Join(missing, ", "))
	}
	return nil
}

// RequiresProfile はアクション種別がプロフィール登録完了を必要とするかを返す。
// ポリシーに記載のない種別は完了を必要とする。
func (p *Policy) RequiresProfile(kind model.ActionKind) bool {
	kp, ok := p.Kinds[kind]
	if !ok {
		return true
	}
	return kp.RequiresProfile
}

// DestinationFor はロールのログイン後遷移先を返す。
// ロールが不明、または遷移先が未設定の場合は空文字列を返す。
func (p *Policy) DestinationFor(role model.Role) string {
	return p.Roles[role].Destination
}

// CompletionPathFor はロールのプロフィール登録画面のパスを返す。
func (p *Policy) CompletionPathFor(role model.Role) string {
	if path := p.Roles[role].CompletionPath; path != "" {
		return path
	}
	return p.DefaultCompletionPath
}

// IsSafeReturnPath はパスがアプリ内の絶対パスかどうかを判定する。
// "//evil.example" や "/\evil.example" のようなプロトコル相対URLは拒否する。
func IsSafeReturnPath(path string) bool {
	if !strings.HasPrefix(path, "/") {
		return false
	}
	if strings.HasPrefix(path, "//") || strings.HasPrefix(path, "/\\") {
		return false
	}
	return !strings.ContainsAny(path, "\r\n")
}
