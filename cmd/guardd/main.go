package main

import (
	"os"

	"github.com/kirillm/trade-guard/cmd/guardd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
