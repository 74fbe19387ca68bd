package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/lazypower/rapport/internal/cli"
)

func main() {
	// API keys may live in a .env in the working directory.
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
