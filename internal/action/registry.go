// Package action はゲート対象アクションの実行ハンドラーを種別ごとに管理する。
// 直接実行（ゲート通過時）と再実行（ログイン後）は同じハンドラーを使う。
package action

import (
	"context"
	"sort"
	"sync"

	"github.com/hitoshi/carelink/internal/model"
)

// Invocation はハンドラーへの入力。
type Invocation struct {
	UserID   string
	ClientID string
	Action   model.Action
	// Replay は保留アクションの再実行であることを示す。
	// 再実行中のハンドラーは新たな保留アクションを書き込んではならない。
	Replay bool
}

// Result はハンドラーの実行結果。
type Result struct {
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Handler はアクション種別ごとの実行関数。
type Handler func(ctx context.Context, inv Invocation) (Result, error)

// Registry は種別からハンドラーへの対応表。
type Registry struct {
	mu       sync.RWMutex
	handlers map[model.ActionKind]Handler
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[model.ActionKind]Handler)}
}

// Register はハンドラーを登録する。同じ種別への再登録は上書きする。
func (r *Registry) Register(kind model.ActionKind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Has は種別のハンドラーが登録済みかを返す。
func (r *Registry) Has(kind model.ActionKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[kind]
	return ok
}

// Kinds は登録済みの種別をソートして返す。
func (r *Registry) Kinds() []model.ActionKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]model.ActionKind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Execute はInvocationの種別に対応するハンドラーを実行する。
// 未登録の種別はUNSUPPORTED_ACTION_KINDエラーを返す。
func (r *Registry) Execute(ctx context.Context, inv Invocation) (Result, error) {
	r.mu.RLock()
	h, ok := r.handlers[inv.Action.Kind]
	r.mu.RUnlock()
	if !ok {
		return Result{}, model.NewUnsupportedActionKindError(inv.Action.Kind)
	}
	return h(ctx, inv)
}
