// Command verdure runs the voice assistant client: connect to a
// conversational server, capture and encode microphone audio, decode and
// play back the reply, and expose the local device's MCP tool surface.
//
// Usage:
//
//	verdure run [flags]
//	verdure devices
package main

import (
	"fmt"
	"os"

	"github.com/rustyguts/verdure/cmd/verdure/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
