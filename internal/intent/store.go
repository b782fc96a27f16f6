// Package intent はゲートで中断されたアクションの保存と取り出しを提供する。
//
// 保留アクションはブラウザコンテキスト（client_id）と種別の組ごとに最大1件保持される。
// ストレージの障害は呼び出し側に伝播させず、「保留アクションなし」として扱う。
package intent

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/carelink/internal/model"
)

// Store は保留アクションのストレージバックエンド。
// repository.PostgresIntentRepo、repository.SQLiteIntentRepo、MemoryStoreが実装する。
type Store interface {
	Set(ctx context.Context, intent *model.PendingIntent) error
	Get(ctx context.Context, clientID string, kind model.ActionKind) (*model.PendingIntent, error)
	Clear(ctx context.Context, clientID string, kind model.ActionKind) error
	ClearIfMatch(ctx context.Context, clientID string, kind model.ActionKind, intentID string) (bool, error)
	List(ctx context.Context, clientID string) ([]*model.PendingIntent, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type slotKey struct {
	clientID string
	kind     model.ActionKind
}

// MemoryStore はプロセス内メモリに保持するStore実装。
// プロセス再起動で内容は失われる。テストと単一プロセス構成向け。
type MemoryStore struct {
	mu    sync.Mutex
	slots map[slotKey]model.PendingIntent
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[slotKey]model.PendingIntent)}
}

// Set は保留アクションを上書き保存する。
func (s *MemoryStore) Set(_ context.Context, intent *model.PendingIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slotKey{intent.ClientID, intent.Kind}] = clone(*intent)
	return nil
}

// Get は保留アクションを返す。存在しない場合はnil。
func (s *MemoryStore) Get(_ context.Context, clientID string, kind model.ActionKind) (*model.PendingIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.slots[slotKey{clientID, kind}]
	if !ok {
		return nil, nil
	}
	out := clone(v)
	return &out, nil
}

// Clear は保留アクションを削除する。
func (s *MemoryStore) Clear(_ context.Context, clientID string, kind model.ActionKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, slotKey{clientID, kind})
	return nil
}

// ClearIfMatch は保存中のIDが一致する場合のみ削除する。
func (s *MemoryStore) ClearIfMatch(_ context.Context, clientID string, kind model.ActionKind, intentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := slotKey{clientID, kind}
	v, ok := s.slots[key]
	if !ok || v.ID != intentID {
		return false, nil
	}
	delete(s.slots, key)
	return true, nil
}

// List はクライアントの保留アクションを新しい順に返す。
func (s *MemoryStore) List(_ context.Context, clientID string) ([]*model.PendingIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.PendingIntent
	for key, v := range s.slots {
		if key.clientID != clientID {
			continue
		}
		c := clone(v)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// DeleteOlderThan はcutoffより前に作成された保留アクションを削除する。
func (s *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, v := range s.slots {
		if v.CreatedAt.Before(cutoff) {
			delete(s.slots, key)
			n++
		}
	}
	return n, nil
}

func clone(p model.PendingIntent) model.PendingIntent {
	if p.Payload != nil {
		p.Payload = append([]byte(nil), p.Payload...)
	}
	return p
}

var _ Store = (*MemoryStore)(nil)
