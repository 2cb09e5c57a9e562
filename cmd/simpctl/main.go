package main

import (
	"fmt"
	"os"

	logs "github.com/danmuck/simp/internal/logging"
)

func main() {
	logs.ConfigureRuntime()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "simpctl: %v\n", err)
		os.Exit(1)
	}
}
