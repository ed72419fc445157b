package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Version はビルド時に -ldflags "-X main.Version=..." で設定する。
var Version = "dev"

func main() {
	// グレースフルシャットダウン
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(Run(ctx, os.Args[1:]))
}
