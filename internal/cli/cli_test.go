package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Shaurya-Sethi/circuitron-sub000/internal/pipeline"
)

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3")
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)

	if got := buf.String(); !strings.Contains(got, "1.2.3") {
		t.Errorf("expected version in output, got %q", got)
	}
}

func TestConfigInit_RefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "circuitron.yaml")
	if err := os.WriteFile(path, []byte("models: {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	configInitForce = false
	err := configInitCmd.RunE(configInitCmd, []string{path})
	if err == nil {
		t.Fatal("expected refusal to overwrite existing file")
	}

	configInitForce = true
	if err := configInitCmd.RunE(configInitCmd, []string{path}); err != nil {
		t.Fatalf("forced init: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "sandbox") {
		t.Errorf("expected defaults in written config, got:\n%s", data)
	}
}

func TestReadPlanFeedback(t *testing.T) {
	plan := &pipeline.Plan{Summary: "led blinker", Blocks: []string{"timer", "led"}}

	t.Run("empty line accepts", func(t *testing.T) {
		var out bytes.Buffer
		fb, err := readPlanFeedback(strings.NewReader("\n"), &out)(plan)
		if err != nil {
			t.Fatal(err)
		}
		if !fb.None() {
			t.Errorf("expected acceptance, got %+v", fb)
		}
		if !strings.Contains(out.String(), "led blinker") {
			t.Errorf("plan summary not presented: %q", out.String())
		}
	})

	t.Run("eof accepts", func(t *testing.T) {
		fb, err := readPlanFeedback(strings.NewReader(""), &bytes.Buffer{})(plan)
		if err != nil {
			t.Fatal(err)
		}
		if !fb.None() {
			t.Errorf("expected acceptance on EOF, got %+v", fb)
		}
	})

	t.Run("text becomes an edit", func(t *testing.T) {
		fb, err := readPlanFeedback(strings.NewReader("use a 3.3V rail\n"), &bytes.Buffer{})(plan)
		if err != nil {
			t.Fatal(err)
		}
		if len(fb.Edits) != 1 || fb.Edits[0] != "use a 3.3V rail" {
			t.Errorf("unexpected feedback: %+v", fb)
		}
	})
}
