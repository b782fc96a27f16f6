package vote

import (
	"context"
	"testing"
	"time"

	"github.com/lib/pq"
)

type fakeSource struct {
	ch chan *pq.Notification
}

func (f *fakeSource) NotificationChannel() <-chan *pq.Notification { return f.ch }
func (f *fakeSource) Ping() error                                  { return nil }
func (f *fakeSource) Close() error                                 { return nil }

func received(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-time.After(time.Second):
		return false
	}
}

func nothingReceived(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return false
	case <-time.After(30 * time.Millisecond):
		return true
	}
}

func TestFeed_PublishCoalesces(t *testing.T) {
	feed := NewFeed(nil)
	ch, unsubscribe := feed.Subscribe("F1")
	defer unsubscribe()

	feed.Publish("F1")
	feed.Publish("F1")
	feed.Publish("F2")

	if !received(ch) {
		t.Fatal("expected a notification")
	}
	if !nothingReceived(ch) {
		t.Error("notifications should be coalesced")
	}
}

func TestFeed_Unsubscribe(t *testing.T) {
	feed := NewFeed(nil)
	ch, unsubscribe := feed.Subscribe("F1")
	unsubscribe()
	unsubscribe()

	feed.Publish("F1")
	if !nothingReceived(ch) {
		t.Error("unsubscribed channel must not receive")
	}
	if len(feed.subs) != 0 {
		t.Errorf("expected no subscriptions, got %d", len(feed.subs))
	}
}

func TestFeed_ListenDispatchesByFeature(t *testing.T) {
	feed := NewFeed(nil)
	f1, unsub1 := feed.Subscribe("F1")
	defer unsub1()
	f2, unsub2 := feed.Subscribe("F2")
	defer unsub2()

	src := &fakeSource{ch: make(chan *pq.Notification, 4)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go feed.Listen(ctx, src)

	src.ch <- &pq.Notification{Channel: ChannelName, Extra: "F1"}
	if !received(f1) {
		t.Fatal("F1 subscriber was not notified")
	}
	if !nothingReceived(f2) {
		t.Error("F2 subscriber must not be notified")
	}

	// 再接続時(nil)は全購読者に通知する
	src.ch <- nil
	if !received(f1) || !received(f2) {
		t.Error("expected broadcast after reconnect")
	}
}

func TestFeed_ListenStopsOnClosedChannel(t *testing.T) {
	feed := NewFeed(nil)
	src := &fakeSource{ch: make(chan *pq.Notification)}
	done := make(chan struct{})
	go func() {
		feed.Listen(context.Background(), src)
		close(done)
	}()

	close(src.ch)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Listen did not return")
	}
}
