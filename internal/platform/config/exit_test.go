package config_test

import (
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/louisbranch/supplyflow/internal/platform/config"
)

// os.Exit cannot be observed in-process, so the test re-runs itself.
func TestExitfReportsAndExits(t *testing.T) {
	if os.Getenv("SUPPLYFLOW_EXITF_CHILD") == "1" {
		config.Exitf("Error: %v", `unknown command "launch"`)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestExitfReportsAndExits$")
	cmd.Env = append(os.Environ(), "SUPPLYFLOW_EXITF_CHILD=1")
	out, err := cmd.CombinedOutput()

	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		t.Fatalf("err = %T %v, want *exec.ExitError", err, err)
	}
	if code := exitErr.ExitCode(); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if want := "Error: unknown command \"launch\"\n"; !strings.Contains(string(out), want) {
		t.Fatalf("output = %q, want %q", out, want)
	}
}
