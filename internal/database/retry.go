package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

const (
	// initialRetryDelay は接続リトライの初回遅延。
	initialRetryDelay = 500 * time.Millisecond
	// maxRetryDelay は接続リトライの最大遅延。
	maxRetryDelay = 10 * time.Second
)

// CalculateBackoff は失敗回数に基づいて指数バックオフ遅延を計算する。
// 初回500ms、2倍ずつ増加、最大10秒。
func CalculateBackoff(failures int) time.Duration {
	delay := initialRetryDelay
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

// pingFunc はテストで差し替えるための疎通確認関数。
type pingFunc func(ctx context.Context) error

// WaitForConnection はDBへの疎通をattempts回まで試行する。
// コンテナ起動直後はDBの準備が整っていないことがあるため、失敗ごとに指数バックオフで待つ。
// attemptsが1以下の場合は1回だけ試行する。
func WaitForConnection(ctx context.Context, db *sql.DB, timeout time.Duration, attempts int) error {
	return waitFor(ctx, func(ctx context.Context) error {
		return Ping(ctx, db, timeout)
	}, attempts, time.After)
}

func waitFor(ctx context.Context, ping pingFunc, attempts int, after func(time.Duration) <-chan time.Time) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = ping(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}

		delay := CalculateBackoff(i)
		slog.Warn("database not ready, retrying",
			slog.Int("attempt", i+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-after(delay):
		}
	}
	return fmt.Errorf("database unreachable after %d attempts: %w", attempts, err)
}
