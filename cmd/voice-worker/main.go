// Package main provides the voice-worker CLI.
//
// Usage:
//
//	voice-worker <command> [flags]
//
// Commands:
//
//	serve    - run the worker: sweep due call tasks and host sessions
//	prewarm  - load the shared service cache and exit
//	call     - enqueue an outbound call task
//	agent    - manage agent records
//
// Configuration comes from the environment (a .env file in the working
// directory is loaded first when present).
package main

import (
	"fmt"
	"os"

	"github.com/parvbhullar/unpod-sub001/cmd/voice-worker/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
