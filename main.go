package main

import (
	"github.com/joho/godotenv"

	"site-decisions/cmd"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cmd.Execute()
}
