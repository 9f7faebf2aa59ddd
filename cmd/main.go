package main

import (
	"os"
)

func main() {
	err := rootCmd.Execute()
	if err != nil && logger != nil {
		logger.Error("Command failed", "error", err)
	}
	if cerr := logger.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		os.Exit(1)
	}
}
