// Package presence はプレゼンス関連のバックグラウンドジョブを提供する。
// オンライン状態の正はプロセス内のPresenceTrackerであり、usersテーブルの
// is_onlineはそのミラーにすぎない。前回のプロセスが異常終了した場合に残る
// オンラインフラグを起動時に落とす。
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// OnlineResetter は全ユーザーのオンラインフラグを落とす。
// repository.UserRepositoryが実装する。
type OnlineResetter interface {
	ResetOnline(ctx context.Context) (int64, error)
}

// ResetJob は残留したオンラインフラグを落とすジョブ。
// 冪等: 対象がない場合でもエラーにならない。
type ResetJob struct {
	users  OnlineResetter
	logger *slog.Logger
}

// NewResetJob は新しいResetJobを生成する。
func NewResetJob(users OnlineResetter, logger *slog.Logger) *ResetJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResetJob{
		users:  users,
		logger: logger,
	}
}

// Run はオンラインフラグを一括で落とす。
// ソケット接続を受け付ける前に1回だけ呼び出す。
func (j *ResetJob) Run(ctx context.Context) error {
	start := time.Now()

	count, err := j.users.ResetOnline(ctx)
	if err != nil {
		j.logger.Error("オンライン状態のリセットに失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("オンライン状態のリセットに失敗: %w", err)
	}

	j.logger.Info("オンライン状態のリセットが完了しました",
		slog.Int64("reset_count", count),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}
