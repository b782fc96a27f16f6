package repository

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/carelink/internal/model"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"一意制約違反", &pq.Error{Code: "23505"}, true},
		{"ラップされた一意制約違反", fmt.Errorf("insert: %w", &pq.Error{Code: "23505"}), true},
		{"外部キー違反", &pq.Error{Code: "23503"}, false},
		{"その他のエラー", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err); got != tt.want {
				t.Errorf("isUniqueViolation(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestPostgresVoteRepo_DuplicateAndCounts(t *testing.T) {
	db := openTestDB(t)
	ctx := t.Context()
	userID := "aaaaaaaa-0000-0000-0000-000000000010"
	createTestUser(t, db, userID, "voter@example.com")
	if _, err := db.Exec(`INSERT INTO feature_requests (id, title) VALUES ('dark-mode', 'Dark mode')`); err != nil {
		t.Fatalf("機能リクエストの作成に失敗: %v", err)
	}

	votes := NewPostgresVoteRepo(db)
	vote := &model.Vote{FeatureID: "dark-mode", UserID: userID, CreatedAt: time.Now()}
	if err := votes.Create(ctx, vote); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := votes.Create(ctx, vote); !errors.Is(err, ErrDuplicate) {
		t.Errorf("second Create error = %v, want ErrDuplicate", err)
	}

	features := NewPostgresFeatureRepo(db)
	f, err := features.FindByID(ctx, "dark-mode", userID)
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if f == nil || f.VoteCount != 1 || !f.VotedByMe {
		t.Errorf("FindByID = %+v, want 1 vote by me", f)
	}

	anon, err := features.FindByID(ctx, "dark-mode", "")
	if err != nil {
		t.Fatalf("FindByID (anonymous) returned error: %v", err)
	}
	if anon.VotedByMe {
		t.Error("VotedByMe should be false without a user")
	}

	deleted, err := votes.Delete(ctx, "dark-mode", userID)
	if err != nil || !deleted {
		t.Fatalf("Delete = %v, %v; want true, nil", deleted, err)
	}
	count, err := votes.CountByFeatureID(ctx, "dark-mode")
	if err != nil {
		t.Fatalf("CountByFeatureID returned error: %v", err)
	}
	if count != 0 {
		t.Errorf("CountByFeatureID = %d, want 0", count)
	}
}
