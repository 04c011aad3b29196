package main

import (
	"os"

	"github.com/javadderoom/TradingGuard/cmd/tradingguard/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
