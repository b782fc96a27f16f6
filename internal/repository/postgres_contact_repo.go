package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/carelink/internal/model"
)

// PostgresMessageRepo はPostgreSQLを使用したメッセージリポジトリ。
type PostgresMessageRepo struct {
	db *sql.DB
}

// NewPostgresMessageRepo はPostgresMessageRepoを生成する。
func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

// Create はメッセージを作成する。
func (r *PostgresMessageRepo) Create(ctx context.Context, msg *model.Message) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (id, sender_id, recipient_id, body, created_at) VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.SenderID, msg.RecipientID, msg.Body, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// PostgresBookingRepo はPostgreSQLを使用した予約リクエストリポジトリ。
type PostgresBookingRepo struct {
	db *sql.DB
}

// NewPostgresBookingRepo はPostgresBookingRepoを生成する。
func NewPostgresBookingRepo(db *sql.DB) *PostgresBookingRepo {
	return &PostgresBookingRepo{db: db}
}

// Create は予約リクエストを作成する。
func (r *PostgresBookingRepo) Create(ctx context.Context, booking *model.BookingRequest) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO booking_requests (id, requester_id, professional_id, note, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		booking.ID, booking.RequesterID, booking.ProfessionalID, booking.Note, booking.Status, booking.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking request: %w", err)
	}
	return nil
}

// compile-time interface check
var (
	_ MessageRepository = (*PostgresMessageRepo)(nil)
	_ BookingRepository = (*PostgresBookingRepo)(nil)
)
