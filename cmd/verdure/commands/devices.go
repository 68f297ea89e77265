package commands

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rustyguts/verdure/internal/mcp"
	"github.com/rustyguts/verdure/internal/mcp/devices"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the MCP tools this device exposes",
	Long: `List every self.* MCP tool this device registers for a remote
server to call: lamp, camera, speaker, and player controls, plus
self.get_device_status.

Does not open audio hardware or connect to a server; it only builds the
same tool registry run does.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := mcp.NewRegistry()
		lamp := devices.NewLampAdapter(reg)
		camera := devices.NewCameraAdapter(reg)
		speaker := devices.NewSpeakerAdapter(reg, nil)
		player := devices.NewPlayerAdapter(reg)
		devices.RegisterDeviceStatus(reg, map[string]devices.StatusProvider{
			"lamp":    lamp,
			"camera":  camera,
			"speaker": speaker,
			"player":  player,
		})

		tools := reg.List()
		sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDESCRIPTION")
		for _, td := range tools {
			fmt.Fprintf(w, "%s\t%s\n", td.Name, td.Description)
		}
		return w.Flush()
	},
}
