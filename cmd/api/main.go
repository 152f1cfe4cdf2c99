package main

import (
	"fmt"
	"os"

	"github.com/ayo6706/deposit-settlement/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "deposit-settlement: %v\n", err)
		os.Exit(1)
	}
}
