package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/chatroom/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）。120/60 = 2 req/sec
	GeneralBurst    int           // API全般のバーストサイズ
	RoomCreateRate  rate.Limit    // ルーム作成のレート（req/sec）。5/3600
	RoomCreateBurst int           // ルーム作成のバーストサイズ
	MessageRate     rate.Limit    // ソケットのメッセージ送信レート（msg/sec）。30/60
	MessageBurst    int           // メッセージ送信のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/user、ルーム作成 5 rooms/hour/user、メッセージ 30 msg/min/user
func DefaultRateLimiterConfig() RateLimiterConfig {
	return NewRateLimiterConfig(120, 5, 30)
}

// NewRateLimiterConfig は分・時間あたりの上限値からレート制限設定を組み立てる。
// バーストは各上限値と同じにする。
func NewRateLimiterConfig(generalPerMinute, roomsPerHour, messagesPerMinute int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(generalPerMinute) / 60.0),
		GeneralBurst:    generalPerMinute,
		RoomCreateRate:  rate.Limit(float64(roomsPerHour) / 3600.0),
		RoomCreateBurst: roomsPerHour,
		MessageRate:     rate.Limit(float64(messagesPerMinute) / 60.0),
		MessageBurst:    messagesPerMinute,
		CleanupInterval: 5 * time.Minute,
	}
}

// userLimiter はユーザーごとのレートリミッターとアクセス時刻を保持する。
type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// KeyedLimiter はキー（ユーザーID）ごとのトークンバケットを管理する。
type KeyedLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*userLimiter
}

func newKeyedLimiter(limit rate.Limit, burst int) *KeyedLimiter {
	return &KeyedLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*userLimiter),
	}
}

// Allow はキーに対して1トークン消費できればtrueを返す。
func (k *KeyedLimiter) Allow(key string) bool {
	k.mu.Lock()
	ul, exists := k.limiters[key]
	if !exists {
		ul = &userLimiter{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.limiters[key] = ul
	}
	ul.lastAccess = time.Now()
	k.mu.Unlock()

	return ul.limiter.Allow()
}

// Len は現在管理されているエントリ数を返す。テストおよびメトリクス用。
func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}

// evictIdle は最終アクセスからttl以上経過したエントリを削除する。
func (k *KeyedLimiter) evictIdle(now time.Time, ttl time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, ul := range k.limiters {
		if now.Sub(ul.lastAccess) > ttl {
			delete(k.limiters, key)
		}
	}
}

// RateLimiter はユーザーごとのレート制限を管理する。
// API全般、ルーム作成、ソケットのメッセージ送信の3種類を独立に提供する。
type RateLimiter struct {
	config RateLimiterConfig

	general    *KeyedLimiter
	roomCreate *KeyedLimiter
	messages   *KeyedLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:     config,
		general:    newKeyedLimiter(config.GeneralRate, config.GeneralBurst),
		roomCreate: newKeyedLimiter(config.RoomCreateRate, config.RoomCreateBurst),
		messages:   newKeyedLimiter(config.MessageRate, config.MessageBurst),
		stopCh:     make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// リクエストコンテキストにユーザーIDが含まれている必要がある（AuthMiddlewareの後に配置）。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.general, rl.config.GeneralRate, "general")
}

// RoomCreationMiddleware はルーム作成専用のレート制限ミドルウェアを返す。
// API全般のレート制限とは独立に動作する。
func (rl *RateLimiter) RoomCreationMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.roomCreate, rl.config.RoomCreateRate, "room_creation")
}

// Messages はソケットのsend_messageに適用するユーザー単位のリミッターを返す。
func (rl *RateLimiter) Messages() *KeyedLimiter {
	return rl.messages
}

func (rl *RateLimiter) middleware(keyed *KeyedLimiter, r rate.Limit, limitType string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			userID, err := UserIDFromContext(req.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthenticationRequiredError())
				return
			}

			if !keyed.Allow(userID) {
				writeRateLimitResponse(w, r)
				slog.Warn("rate limit exceeded",
					slog.String("user_id", userID),
					slog.String("limit_type", limitType),
				)
				return
			}

			next.ServeHTTP(w, req)
		})
	}
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
// ルーム作成は1時間窓のため、バケットが満タンに戻るまで保持する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2
	now := time.Now()

	rl.general.evictIdle(now, ttl)
	rl.messages.evictIdle(now, ttl)
	rl.roomCreate.evictIdle(now, max(ttl, time.Hour))
}

// writeRateLimitResponse はトークンが1つ補充されるまでの推定時間を添えて429を返す。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	wait := time.Second
	if r > 0 && r != rate.Inf {
		wait = time.Duration(float64(time.Second) / float64(r))
	}
	WriteRateLimited(w, wait)
}
