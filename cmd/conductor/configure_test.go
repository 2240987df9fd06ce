package main

import (
	"bytes"
	"io"
	"os"
	"testing"
)

// run redirects stdout to a pipe, calls configure, restores stdout, and
// returns everything printed alongside configure's own result.
func run(args []string) (out string, cfg Config, err error) {
	origStdout := os.Stdout
	defer func() { os.Stdout = origStdout }()

	r, w, _ := os.Pipe()
	os.Stdout = w

	cfg, err = configure(args)

	_ = w.Close()
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	out = buf.String()
	return
}

func TestConfigureOK(t *testing.T) {
	out, cfg, err := run([]string{"target.exe", "hooks.dll"})
	if err != nil || out != "" {
		t.Fatalf("run() = out=%q cfg=%+v err=%v", out, cfg, err)
	}
	if cfg.ExecutablePath != "target.exe" || cfg.LibraryPath != "hooks.dll" || cfg.TUI {
		t.Fatalf("configure() = %+v, want target.exe/hooks.dll/tui=false", cfg)
	}
}

func TestConfigureTUIFlag(t *testing.T) {
	out, cfg, err := run([]string{"--tui", "target.exe", "hooks.dll"})
	if err != nil || out != "" {
		t.Fatalf("run() = out=%q cfg=%+v err=%v", out, cfg, err)
	}
	if !cfg.TUI || cfg.ExecutablePath != "target.exe" || cfg.LibraryPath != "hooks.dll" {
		t.Fatalf("configure() = %+v, want tui=true target.exe/hooks.dll", cfg)
	}
}

func TestConfigureErrors(t *testing.T) {
	cases := [][]string{
		nil,
		{"only-one-arg"},
		{"too", "many", "args"},
	}
	for _, args := range cases {
		out, _, err := run(args)
		if err != ErrUsage {
			t.Fatalf("args=%v: err = %v, want ErrUsage", args, err)
		}
		if !bytes.Contains([]byte(out), []byte("Usage:")) {
			t.Fatalf("args=%v: expected usage banner, got %q", args, out)
		}
	}
}
