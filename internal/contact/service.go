// Package contact は介護者へのメッセージ送信と予約リクエストを提供する。
// 家族ユーザーは有効なプラン契約がある場合のみ介護者に連絡できる。
package contact

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/carelink/internal/model"
	"github.com/hitoshi/carelink/internal/notify"
	"github.com/hitoshi/carelink/internal/repository"
)

const maxBodyLength = 5000

// 成功時にユーザーへ表示するメッセージ。
const (
	MessageSentMessage      = "Your message has been sent."
	BookingRequestedMessage = "Your booking request has been sent."
)

// BookingStatusRequested は作成直後の予約リクエストの状態。
const BookingStatusRequested = "requested"

// PlanChecker は有効なプラン契約の有無を確認するインターフェース。
type PlanChecker interface {
	IsActive(ctx context.Context, userID string) (bool, error)
}

// Service は介護者への連絡のサービス層。
type Service struct {
	profiles  repository.ProfileRepository
	messages  repository.MessageRepository
	bookings  repository.BookingRepository
	plans     PlanChecker
	publisher notify.Publisher
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。publisherはnilでもよい。
func NewService(
	profiles repository.ProfileRepository,
	messages repository.MessageRepository,
	bookings repository.BookingRepository,
	plans PlanChecker,
	publisher notify.Publisher,
) *Service {
	return &Service{
		profiles:  profiles,
		messages:  messages,
		bookings:  bookings,
		plans:     plans,
		publisher: publisher,
		now:       time.Now,
	}
}

// SendMessage は介護者にメッセージを送る。
func (s *Service) SendMessage(ctx context.Context, senderID, recipientID, body string) (*model.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, model.NewEmptyContentError("Message")
	}
	if utf8.RuneCountInString(body) > maxBodyLength {
		return nil, model.NewInvalidRequestError("message is too long")
	}
	if err := s.authorize(ctx, senderID, recipientID); err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:          uuid.New().String(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Body:        body,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("メッセージの保存に失敗しました: %w", err)
	}

	slog.Info("メッセージを送信しました",
		slog.String("sender_id", senderID),
		slog.String("recipient_id", recipientID),
	)
	s.notify(ctx, recipientID, notify.TemplateMessageReceived, msg.ID)
	return msg, nil
}

// RequestBooking は介護者に予約リクエストを送る。
func (s *Service) RequestBooking(ctx context.Context, requesterID, professionalID, note string) (*model.BookingRequest, error) {
	note = strings.TrimSpace(note)
	if utf8.RuneCountInString(note) > maxBodyLength {
		return nil, model.NewInvalidRequestError("note is too long")
	}
	if err := s.authorize(ctx, requesterID, professionalID); err != nil {
		return nil, err
	}

	booking := &model.BookingRequest{
		ID:             uuid.New().String(),
		RequesterID:    requesterID,
		ProfessionalID: professionalID,
		Note:           note,
		Status:         BookingStatusRequested,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.bookings.Create(ctx, booking); err != nil {
		return nil, fmt.Errorf("予約リクエストの保存に失敗しました: %w", err)
	}

	slog.Info("予約リクエストを送信しました",
		slog.String("requester_id", requesterID),
		slog.String("professional_id", professionalID),
	)
	s.notify(ctx, professionalID, notify.TemplateBookingRequested, booking.ID)
	return booking, nil
}

// authorize は宛先が介護職であること、家族ユーザーの場合は有効な契約があることを確認する。
func (s *Service) authorize(ctx context.Context, senderID, recipientID string) error {
	if recipientID == "" || recipientID == senderID {
		return model.NewRecipientNotFoundError(recipientID)
	}
	recipient, err := s.profiles.FindByUserID(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("宛先プロフィールの取得に失敗しました: %w", err)
	}
	if recipient == nil || recipient.Role != model.RoleProfessional {
		return model.NewRecipientNotFoundError(recipientID)
	}

	sender, err := s.profiles.FindByUserID(ctx, senderID)
	if err != nil {
		return fmt.Errorf("送信者プロフィールの取得に失敗しました: %w", err)
	}
	if sender == nil || sender.Role != model.RoleFamily {
		return nil
	}
	active, err := s.plans.IsActive(ctx, senderID)
	if err != nil {
		return err
	}
	if !active {
		return model.NewSubscriptionRequiredError()
	}
	return nil
}

func (s *Service) notify(ctx context.Context, userID, template, refID string) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.Publish(ctx, notify.Notification{
		Template: template,
		UserID:   userID,
		Data:     map[string]string{"ref_id": refID},
	})
	if err != nil {
		slog.Warn("通知の発行に失敗しました",
			slog.String("user_id", userID),
			slog.String("template", template),
			slog.String("error", err.Error()),
		)
	}
}
