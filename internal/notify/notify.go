// Package notify はメール送信などの通知要求をキューに発行する。
// 送信そのものは別プロセス（メール送信ワーカー）が行う。
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// 通知テンプレート名。
const (
	TemplateWelcome              = "welcome"
	TemplateSubscriptionActive   = "subscription_active"
	TemplateSubscriptionCanceled = "subscription_canceled"
	TemplateBookingRequested     = "booking_requested"
	TemplateMessageReceived      = "message_received"
)

// Notification はキューに発行する通知要求。
type Notification struct {
	Template  string            `json:"template"`
	UserID    string            `json:"user_id"`
	Email     string            `json:"email,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Publisher は通知要求の発行インターフェース。
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
	Close() error
}

// channel はamqp.Channelのうち使用するメソッド。
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitPublisher はRabbitMQのキューへ通知要求をJSONで発行する。
type RabbitPublisher struct {
	conn  *amqp.Connection
	ch    channel
	queue string
}

// NewRabbitPublisher はRabbitMQに接続し、永続キューを宣言する。
func NewRabbitPublisher(url, queue string) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &RabbitPublisher{conn: conn, ch: ch, queue: queue}, nil
}

// Publish は通知要求を永続メッセージとして発行する。
func (p *RabbitPublisher) Publish(ctx context.Context, n Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    n.CreatedAt,
		Type:         n.Template,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s notification: %w", n.Template, err)
	}
	return nil
}

// Close はチャネルと接続を閉じる。
func (p *RabbitPublisher) Close() error {
	if err := p.ch.Close(); err != nil {
		return err
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// NopPublisher は通知を発行せずログに残すだけのPublisher。RabbitMQ未設定時に使う。
type NopPublisher struct {
	Logger *slog.Logger
}

// Publish はデバッグログを出力する。
func (p NopPublisher) Publish(_ context.Context, n Notification) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("通知キュー未設定のため通知を破棄しました",
		slog.String("template", n.Template),
		slog.String("user_id", n.UserID),
	)
	return nil
}

// Close は何もしない。
func (NopPublisher) Close() error { return nil }
