// Command assistant runs the guild assistant: the conversational agent, the
// knowledge ingester and the rating triage worker.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
