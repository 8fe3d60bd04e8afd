package main

import (
	"github.com/joho/godotenv"

	"github.com/quoroomlabs/quoroom/cmd"
)

func main() {
	// Optional .env in the working directory; absence is not an error.
	_ = godotenv.Load()
	cmd.Execute()
}
