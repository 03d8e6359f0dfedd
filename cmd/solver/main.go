package main

import (
	"os"

	"OminisNode/internal/logger"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		logger.New("solver").Error("command failed", "err", err)
		os.Exit(1)
	}
}
