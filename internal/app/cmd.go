package app

import (
	"fmt"
	"slices"
	"strings"
)

// Command はサブコマンド名。
type Command string

const (
	CommandServe   Command = "serve"
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はdistrolessイメージのHEALTHCHECKから呼ばれる。設定の読み込みを行わない。
	CommandHealthcheck Command = "healthcheck"
)

var commands = []Command{CommandServe, CommandMigrate, CommandHealthcheck}

// ParseCommand は先頭の引数をサブコマンドとして解釈する。引数がなければserve。
// 2番目以降の引数は無視する。未知のサブコマンドはエラーとし、誤ったコマンドでサーバーが起動しないようにする。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 || args[0] == "" {
		return CommandServe, nil
	}

	cmd := Command(strings.ToLower(args[0]))
	if !slices.Contains(commands, cmd) {
		return "", fmt.Errorf("unknown command %q (available: %s)", args[0], availableCommands())
	}
	return cmd, nil
}

func availableCommands() string {
	names := make([]string, len(commands))
	for i, c := range commands {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
