package app

import (
	"fmt"
	"strings"
)

// Command はバイナリのサブコマンド。docker-composeではapiがserve、migrateサービスがmigrateを使う。
type Command string

const (
	CommandServe   Command = "serve"
	CommandMigrate Command = "migrate"
	// CommandSeed は固定のユーザー・ルーム・メッセージを投入する。再実行しても重複しない。
	CommandSeed Command = "seed"
	// CommandHealthcheck はdistrolessイメージのHEALTHCHECKから呼ばれ、設定やDBを読まずに/healthを叩く。
	CommandHealthcheck Command = "healthcheck"
)

var commands = []Command{CommandServe, CommandMigrate, CommandSeed, CommandHealthcheck}

// ErrUnknownCommand は未定義のサブコマンドが指定されたことを示す。
type ErrUnknownCommand struct {
	Name string
}

func (e *ErrUnknownCommand) Error() string {
	names := make([]string, len(commands))
	for i, c := range commands {
		names[i] = string(c)
	}
	return fmt.Sprintf("unknown command %q (available: %s)", e.Name, strings.Join(names, ", "))
}

// ParseCommand は先頭の引数をサブコマンドとして解釈する。引数なしはserve。
// 綴り違いでサーバーが起動してしまわないよう、未定義の名前はエラーにする。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}
	for _, c := range commands {
		if args[0] == string(c) {
			return c, nil
		}
	}
	return "", &ErrUnknownCommand{Name: args[0]}
}
