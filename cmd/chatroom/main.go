// Command chatroom はチャットサーバーのエントリーポイント。
//
// サブコマンド:
//
//	serve        REST APIとWebSocketサーバーを起動する（デフォルト）
//	migrate      データベースマイグレーションを適用する
//	seed         サンプルデータを投入する
//	healthcheck  /health を叩いて結果を終了コードで返す
package main

import (
	"log/slog"
	"os"

	"github.com/hitoshi/chatroom/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		slog.Error("application exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
