package engagement

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/hitoshi/carelink/internal/model"
)

// EventInserter はイベントの永続化インターフェース。
type EventInserter interface {
	Insert(ctx context.Context, event *model.EngagementEvent) error
}

// RepositorySink はイベントをデータベースに書き込むシンク。
type RepositorySink struct {
	repo EventInserter
}

// NewRepositorySink はRepositorySinkを生成する。
func NewRepositorySink(repo EventInserter) *RepositorySink {
	return &RepositorySink{repo: repo}
}

// Name はシンク名を返す。
func (s *RepositorySink) Name() string { return "postgres" }

// Write はイベントを追記する。
func (s *RepositorySink) Write(ctx context.Context, event *model.EngagementEvent) error {
	return s.repo.Insert(ctx, event)
}

// KafkaWriter はkafka.Writerのうち使用するメソッド。
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink はイベントをJSONとしてKafkaトピックに送信するシンク。
// キーはセッション相関IDとし、同一ブラウザのイベントを同じパーティションに送る。
type KafkaSink struct {
	writer KafkaWriter
}

// NewKafkaSink はブローカーとトピックを指定してKafkaSinkを生成する。
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return NewKafkaSinkWithWriter(&kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	})
}

// NewKafkaSinkWithWriter は任意のWriterでKafkaSinkを生成する。
func NewKafkaSinkWithWriter(w KafkaWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

// Name はシンク名を返す。
func (s *KafkaSink) Name() string { return "kafka" }

// Write はイベントを1件送信する。
func (s *KafkaSink) Write(ctx context.Context, event *model.EngagementEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal engagement event: %w", err)
	}
	msg := kafka.Message{Key: []byte(event.SessionID), Value: value}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write engagement event to kafka: %w", err)
	}
	return nil
}

// Close はWriterを閉じる。
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
