package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ACFHarbinger/Coding-Assistants/internal/cli"
)

// Run はコマンドを実行して終了コードを返す。
func Run(ctx context.Context, args []string) int {
	root := cli.NewRootCmd(Version)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
