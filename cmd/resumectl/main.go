package main

import (
	"os"

	"resumeflow/cmd/resumectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
