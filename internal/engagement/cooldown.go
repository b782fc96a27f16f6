package engagement

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type cooldownEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Cooldown はキーごとに一定時間内の重複操作を抑止する。
// 連打による二重送信を防ぐ補助的な仕組みであり、一意性の保証はデータベース側で行う。
type Cooldown struct {
	window time.Duration

	mu      sync.Mutex
	entries map[string]*cooldownEntry

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCooldown はCooldownを生成し、バックグラウンドで古いエントリのクリーンアップを開始する。
// windowが0以下の場合は常に許可する。
func NewCooldown(window time.Duration) *Cooldown {
	c := &Cooldown{
		window:  window,
		entries: make(map[string]*cooldownEntry),
		stopCh:  make(chan struct{}),
	}
	if window > 0 {
		go c.cleanupLoop()
	}
	return c
}

// Allow はキーの操作を許可するかを返す。許可した場合はウィンドウを開始する。
func (c *Cooldown) Allow(key string) bool {
	if c.window <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		e = &cooldownEntry{limiter: rate.NewLimiter(rate.Every(c.window), 1)}
		c.entries[key] = e
	}
	e.lastAccess = time.Now()
	return e.limiter.Allow()
}

// Window は抑止する時間幅を返す。
func (c *Cooldown) Window() time.Duration {
	return c.window
}

// Stop はクリーンアップを停止する。複数回呼んでもよい。
func (c *Cooldown) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Cooldown) cleanupLoop() {
	interval := c.window * 10
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup(time.Now())
		case <-c.stopCh:
			return
		}
	}
}

// cleanup はウィンドウを過ぎたエントリを削除する。
func (c *Cooldown) cleanup(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if now.Sub(e.lastAccess) > c.window {
			delete(c.entries, key)
		}
	}
}

func (c *Cooldown) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
