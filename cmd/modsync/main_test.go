package main

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/schaermu/modsync/internal/launch"
	"github.com/schaermu/modsync/internal/scan"
	"github.com/schaermu/modsync/internal/state"
	"github.com/schaermu/modsync/internal/sync"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSetupLogger(t *testing.T) {
	origLevel := logLevel
	origFormat := logFormat
	t.Cleanup(func() {
		logLevel = origLevel
		logFormat = origFormat
	})

	for _, tc := range []struct {
		name      string
		logLevel  string
		logFormat string
	}{
		{name: "debug/text", logLevel: "debug", logFormat: "text"},
		{name: "info/json", logLevel: "info", logFormat: "json"},
		{name: "warn/text", logLevel: "warn", logFormat: "text"},
		{name: "error/text", logLevel: "error", logFormat: "text"},
		{name: "unknown/text", logLevel: "unknown", logFormat: "text"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			logLevel = tc.logLevel
			logFormat = tc.logFormat

			logger := setupLogger()
			if logger == nil {
				t.Fatal("setupLogger returned nil")
			}
		})
	}
}

func TestLoadConfig_WithExplicitPath(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })

	tmpDir := t.TempDir()
	rootDir := filepath.Join(tmpDir, "game")

	configContent := []byte(`paths:
  root_dir: "` + rootDir + `"
http:
  timeout: 30s
`)
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, configContent, 0o600); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfgFile = cfgPath
	cfg, err := loadConfig(discardLogger())
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if cfg.Paths.RootDir != rootDir {
		t.Errorf("expected root %s, got %s", rootDir, cfg.Paths.RootDir)
	}
	if cfg.Paths.StateFile != filepath.Join(rootDir, state.DefaultFileName) {
		t.Errorf("unexpected state file %s", cfg.Paths.StateFile)
	}
	if !strings.HasPrefix(cfg.HTTP.UserAgent, "modsync/") {
		t.Errorf("expected default user agent, got %q", cfg.HTTP.UserAgent)
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })

	cfgFile = filepath.Join(t.TempDir(), "nonexistent.yaml")

	if _, err := loadConfig(discardLogger()); err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
}

func TestSetupSignalHandler(t *testing.T) {
	ctx, cancel := setupSignalHandler()
	if ctx == nil {
		t.Fatal("setupSignalHandler returned nil context")
	}

	cancel()

	<-ctx.Done()
	if err := ctx.Err(); err == nil {
		t.Fatal("expected context error after cancel, got nil")
	}
}

func TestVersionCmd(t *testing.T) {
	t.Helper()
	// versionCmd.Run simply prints version info; should not panic.
	versionCmd.Run(versionCmd, []string{})
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"sync", "init", "launch", "files", "publish", "serve", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestResolveDecision(t *testing.T) {
	out := &sync.Outcome{
		State:  state.NewLocalState("https://example.com/manifest.json", "old.exe"),
		Launch: launch.Resolution{State: launch.NeedsDecision, Executable: "new.exe", Version: "2.0.0"},
	}

	tests := []struct {
		flag    string
		want    launch.Choice
		wantErr bool
	}{
		{flag: "once", want: launch.IgnoreOnce},
		{flag: "permanent", want: launch.IgnorePermanently},
		{flag: "cancel", want: launch.Cancel},
		{flag: "ask", want: launch.Cancel},
		{flag: "sometimes", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.flag, func(t *testing.T) {
			got, err := resolveDecision(tt.flag, out, false, discardLogger())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("resolveDecision(%q) = %q, want %q", tt.flag, got, tt.want)
			}
		})
	}
}

func TestRenderTree_Plain(t *testing.T) {
	nodes := []*scan.Node{{
		Name:   "Mods",
		Path:   "Mods",
		IsDir:  true,
		Status: scan.Untracked,
		Children: []*scan.Node{
			{Name: "a.pak", Path: "Mods/a.pak", Status: scan.Managed},
			{Name: "b.pak", Path: "Mods/b.pak", Status: scan.Untracked},
		},
	}}

	var buf bytes.Buffer
	if err := renderTree(&buf, nodes, false); err != nil {
		t.Fatalf("renderTree returned error: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.HasSuffix(lines[0], "Mods/") || !strings.HasPrefix(lines[0], scan.Untracked.String()) {
		t.Errorf("unexpected directory line %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "  a.pak") || !strings.HasPrefix(lines[1], scan.Managed.String()) {
		t.Errorf("unexpected file line %q", lines[1])
	}
}

func TestProgressUI_NonInteractive(t *testing.T) {
	ui := newProgressUI(false, discardLogger())
	ui.status("checking for updates")
	ui.progress(0.5)
	ui.progress(1)
	ui.stop()

	if ui.bar != nil {
		t.Error("expected no progress bar when not interactive")
	}
}
