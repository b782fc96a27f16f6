package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/carelink/internal/model"
)

// SQLiteIntentRepo はSQLiteを使用した保留アクションリポジトリ。
// 単一ノード構成やローカル開発でPostgreSQLの代わりに使用する。
// created_atはUnixナノ秒で保存する。
type SQLiteIntentRepo struct {
	db *sql.DB
}

// NewSQLiteIntentRepo はSQLiteIntentRepoを生成する。
// dbはdatabase.OpenSQLiteで開いたものを渡すこと。
func NewSQLiteIntentRepo(db *sql.DB) *SQLiteIntentRepo {
	return &SQLiteIntentRepo{db: db}
}

// Set は保留アクションを書き込む。同じ種別の既存レコードは上書きする。
func (r *SQLiteIntentRepo) Set(ctx context.Context, intent *model.PendingIntent) error {
	var payload any
	if len(intent.Payload) > 0 {
		payload = string(intent.Payload)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pending_intents (id, client_id, kind, target_id, return_path, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (client_id, kind) DO UPDATE SET
		     id = excluded.id,
		     target_id = excluded.target_id,
		     return_path = excluded.return_path,
		     payload = excluded.payload,
		     created_at = excluded.created_at`,
		intent.ID, intent.ClientID, string(intent.Kind), intent.TargetID, intent.ReturnPath,
		payload, intent.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to set pending intent: %w", err)
	}
	return nil
}

// Get は保留アクションを取得する。見つからない場合はnilを返す。
func (r *SQLiteIntentRepo) Get(ctx context.Context, clientID string, kind model.ActionKind) (*model.PendingIntent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, client_id, kind, target_id, return_path, payload, created_at
		 FROM pending_intents
		 WHERE client_id = ? AND kind = ?`,
		clientID, string(kind),
	)
	intent, err := scanSQLitePendingIntent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending intent: %w", err)
	}
	return intent, nil
}

// Clear は保留アクションを削除する。
func (r *SQLiteIntentRepo) Clear(ctx context.Context, clientID string, kind model.ActionKind) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM pending_intents WHERE client_id = ? AND kind = ?`,
		clientID, string(kind),
	)
	if err != nil {
		return fmt.Errorf("failed to clear pending intent: %w", err)
	}
	return nil
}

// ClearIfMatch は保存中のIDがintentIDと一致する場合のみ削除する。
func (r *SQLiteIntentRepo) ClearIfMatch(ctx context.Context, clientID string, kind model.ActionKind, intentID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM pending_intents WHERE client_id = ? AND kind = ? AND id = ?`,
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
func (r *SQLiteIntentRepo) List(ctx context.Context, clientID string) ([]*model.PendingIntent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, client_id, kind, target_id, return_path, payload, created_at
		 FROM pending_intents
		 WHERE client_id = ?
		 ORDER BY created_at DESC`,
		clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending intents: %w", err)
	}
	defer rows.Close()

	var intents []*model.PendingIntent
	for rows.Next() {
		intent, err := scanSQLitePendingIntent(rows)
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
func (r *SQLiteIntentRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM pending_intents WHERE created_at < ?`,
		cutoff.UnixNano(),
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

func scanSQLitePendingIntent(s rowScanner) (*model.PendingIntent, error) {
	intent := &model.PendingIntent{}
	var kind string
	var payload sql.NullString
	var createdAt int64
	if err := s.Scan(&intent.ID, &intent.ClientID, &kind, &intent.TargetID, &intent.ReturnPath, &payload, &createdAt); err != nil {
		return nil, err
	}
	intent.Kind = model.ActionKind(kind)
	if payload.Valid && payload.String != "" {
		intent.Payload = []byte(payload.String)
	}
	intent.CreatedAt = time.Unix(0, createdAt).UTC()
	return intent, nil
}

// compile-time interface check
var _ IntentRepository = (*SQLiteIntentRepo)(nil)
