package commands

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "verdure",
	Short: "Voice assistant client",
	Long: `verdure is a voice assistant client.

It captures microphone audio, streams it to a conversational server over
a websocket or MQTT transport, plays back the server's synthesized reply,
and exposes this device's lamp/camera/speaker/player controls over MCP so
the server's tool calls can act on the room the device sits in.

Configuration is read from a "verdure" config file (YAML) on the search
path given by --config, the current directory, and VERDURE_* environment
variables.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "directory to search for a verdure config file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(devicesCmd)
}
