package main

import (
	"os"
)

func main() {
	cmd := (&command{}).Cmd()
	cmd.AddCommand(versionCmd)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
