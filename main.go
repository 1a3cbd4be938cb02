package main

import (
	"os"
	"runtime/debug"

	"github.com/mezonai/msig/cmd"
	"github.com/mezonai/msig/logx"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			_ = logx.Errorf("WALLET CRASHED: %v\n%s", r, debug.Stack())
			os.Exit(1)
		}
	}()

	cmd.Execute()
}
