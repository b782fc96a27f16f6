package user

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/carelink/internal/model"
)

// --- モック ---

type mockUserRepo struct {
	findByIDFn   func(ctx context.Context, id string) (*model.User, error)
	deleteByIDFn func(ctx context.Context, id string) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	return nil
}
func (m *mockUserRepo) UpdateContact(ctx context.Context, id, email, name string, at time.Time) error {
	return nil
}
func (m *mockUserRepo) DeleteByID(ctx context.Context, id string) error {
	return m.deleteByIDFn(ctx, id)
}

type mockSessionRepo struct {
	deleteByUserIDFn func(ctx context.Context, userID string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	return nil
}
func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return nil, nil
}
func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	return nil
}
func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	return m.deleteByUserIDFn(ctx, userID)
}
func (m *mockSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

// recordingDeleter は呼び出し順を記録する。
type recordingDeleter struct {
	name  string
	order *[]string
	err   error
}

func (d *recordingDeleter) DeleteByUserID(ctx context.Context, userID string) error {
	*d.order = append(*d.order, d.name)
	return d.err
}

// --- テスト ---

// TestService_Withdraw は退会処理が全関連データを順に削除することを検証する。
func TestService_Withdraw(t *testing.T) {
	var order []string
	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Email: "test@example.com"}, nil
		},
		deleteByIDFn: func(ctx context.Context, id string) error {
			order = append(order, "user")
			return nil
		},
	}
	sessionRepo := &mockSessionRepo{
		deleteByUserIDFn: func(ctx context.Context, userID string) error {
			order = append(order, "sessions")
			return nil
		},
	}

	svc := NewService(userRepo, sessionRepo,
		&recordingDeleter{name: "votes", order: &order},
		&recordingDeleter{name: "stories", order: &order},
		&recordingDeleter{name: "plans", order: &order},
		&recordingDeleter{name: "profiles", order: &order},
	)

	if err := svc.Withdraw(context.Background(), "user-1"); err != nil {
		t.Fatalf("Withdraw returned error: %v", err)
	}

	want := []string{"votes", "stories", "plans", "profiles", "sessions", "user"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

// TestService_Withdraw_UserNotFound は存在しないユーザーの退会がエラーになることを検証する。
func TestService_Withdraw_UserNotFound(t *testing.T) {
	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return nil, nil
		},
	}

	svc := NewService(userRepo, nil, nil, nil, nil, nil)

	err := svc.Withdraw(context.Background(), "nonexistent-user")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUserNotFound {
		t.Fatalf("expected USER_NOT_FOUND, got %v", err)
	}
}

// TestService_Withdraw_StopsOnError は途中の削除に失敗した場合にユーザーを削除しないことを検証する。
func TestService_Withdraw_StopsOnError(t *testing.T) {
	var order []string
	userDeleted := false
	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id}, nil
		},
		deleteByIDFn: func(ctx context.Context, id string) error {
			userDeleted = true
			return nil
		},
	}

	svc := NewService(userRepo, nil,
		&recordingDeleter{name: "votes", order: &order},
		&recordingDeleter{name: "stories", order: &order, err: errors.New("db down")},
		&recordingDeleter{name: "plans", order: &order},
		nil,
	)

	if err := svc.Withdraw(context.Background(), "user-1"); err == nil {
		t.Fatal("expected error")
	}
	if userDeleted {
		t.Error("user must not be deleted after a failed step")
	}
	if len(order) != 2 {
		t.Errorf("expected to stop after stories, got %v", order)
	}
}
