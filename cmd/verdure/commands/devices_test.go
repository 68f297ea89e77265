package commands

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

// runRootCmd executes rootCmd with args and captures stdout, mirroring the
// pipe-swap pattern used to test cobra commands elsewhere in the pack.
func runRootCmd(t *testing.T, args ...string) (stdout string, err error) {
	t.Helper()

	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	rootCmd.SetArgs(args)
	execErr := rootCmd.Execute()

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	buf.ReadFrom(r)
	return buf.String(), execErr
}

func TestDevicesListsRegisteredTools(t *testing.T) {
	out, err := runRootCmd(t, "devices")
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	for _, want := range []string{
		"self.lamp.turn_on",
		"self.audio_speaker.set_volume",
		"self.camera",
		"self.get_device_status",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to mention %q, got:\n%s", want, out)
		}
	}
}
