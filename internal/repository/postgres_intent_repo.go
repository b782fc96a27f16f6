package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/carelink/internal/model"
)

// PostgresIntentRepo はPostgreSQLを使用した保留アクションリポジトリ。
type PostgresIntentRepo struct {
	db *sql.DB
}

// NewPostgresIntentRepo はPostgresIntentRepoを生成する。
func NewPostgresIntentRepo(db *sql.DB) *PostgresIntentRepo {
	return &PostgresIntentRepo{db: db}
}

// Set は保留アクションを書き込む。(client_id, kind) が既に存在する場合は全列を上書きする。
func (r *PostgresIntentRepo) Set(ctx context.Context, intent *model.PendingIntent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pending_intents (id, client_id, kind, target_id, return_path, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (client_id, kind) DO UPDATE SET
		     id = EXCLUDED.id,
		     target_id = EXCLUDED.target_id,
		     return_path = EXCLUDED.return_path,
		     payload = EXCLUDED.payload,
		     created_at = EXCLUDED.created_at`,
		intent.ID, intent.ClientID, string(intent.Kind), intent.TargetID, intent.ReturnPath,
		nullableJSON(intent.Payload), intent.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to set pending intent: %w", err)
	}
	return nil
}

// Get は保留アクションを取得する。見つからない場合はnilを返す。
func (r *PostgresIntentRepo) Get(ctx context.Context, clientID string, kind model.ActionKind) (*model.PendingIntent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, client_id, kind, target_id, return_path, payload, created_at
		 FROM pending_intents
		 WHERE client_id = $1 AND kind = $2`,
		clientID, string(kind),
	)
	intent, err := scanPendingIntent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending intent: %w", err)
	}
	return intent, nil
}

// Clear は保留アクションを削除する。
func (r *PostgresIntentRepo) Clear(ctx context.Context, clientID string, kind model.ActionKind) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM pending_intents WHERE client_id = $1 AND kind = $2`,
		clientID, string(kind),
	)
	if err != nil {
		return fmt.Errorf("failed to clear pending intent: %w", err)
	}
	return nil
}

// ClearIfMatch は保存中のIDがintentIDと一致する場合のみ削除する。
func (r *PostgresIntentRepo) ClearIfMatch(ctx context.Context, clientID string, kind model.ActionKind, intentID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM pending_intents WHERE client_id = $1 AND kind = $2 AND id = $3`,
		clientID, string(kind), intentID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to clear pending intent: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// List はクライアントの保留アクションを新しい順に返す。
func (r *PostgresIntentRepo) List(ctx context.Context, clientID string) ([]*model.PendingIntent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, client_id, kind, target_id, return_path, payload, created_at
		 FROM pending_intents
		 WHERE client_id = $1
		 ORDER BY created_at DESC`,
		clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending intents: %w", err)
	}
	defer rows.Close()

	var intents []*model.PendingIntent
	for rows.Next() {
		intent, err := scanPendingIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending intent: %w", err)
		}
		intents = append(intents, intent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending intents: %w", err)
	}
	return intents, nil
}

// DeleteOlderThan はcutoffより前に作成された保留アクションを削除する。
func (r *PostgresIntentRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM pending_intents WHERE created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale pending intents: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPendingIntent(s rowScanner) (*model.PendingIntent, error) {
	intent := &model.PendingIntent{}
	var kind string
	var payload []byte
	if err := s.Scan(&intent.ID, &intent.ClientID, &kind, &intent.TargetID, &intent.ReturnPath, &payload, &intent.CreatedAt); err != nil {
		return nil, err
	}
	intent.Kind = model.ActionKind(kind)
	if len(payload) > 0 {
		intent.Payload = payload
	}
	return intent, nil
}

// nullableJSON は空のJSONをNULLとして書き込むための変換を行う。
func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}

// compile-time interface check
var _ IntentRepository = (*PostgresIntentRepo)(nil)
