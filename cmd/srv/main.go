package main

import (
	"os"

	"github.com/yitech/stockview/cmd/srv/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
