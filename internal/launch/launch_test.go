package launch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/schaermu/modsync/internal/manifest"
	"github.com/schaermu/modsync/internal/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type mockLauncher struct {
	path, dir string
	calls     int
	err       error
}

func (m *mockLauncher) Start(_ context.Context, path, dir string) error {
	m.calls++
	m.path, m.dir = path, dir
	return m.err
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("bin"), 0755); err != nil {
		t.Fatal(err)
	}
}

func TestResolve(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "install")
	touch(t, filepath.Join(root, "bin", "new.exe"))
	touch(t, filepath.Join(base, "evil.exe"))

	tests := []struct {
		name      string
		local     string
		ignored   string
		remote    string
		version   string
		wantState State
		wantExe   string
	}{
		{"equal", "bin/game.exe", "", "bin/game.exe", "1.0.0", Unchanged, "bin/game.exe"},
		{"equal ignoring case", "BIN/Game.exe", "", "bin/game.exe", "1.0.0", Unchanged, "BIN/Game.exe"},
		{"suppressed version", "bin/game.exe", "2.0.0", "bin/missing.exe", "2.0.0", Unchanged, "bin/game.exe"},
		{"auto update", "bin/game.exe", "", "bin/new.exe", "2.0.0", AutoUpdated, "bin/new.exe"},
		{"auto update with backslashes", "bin/game.exe", "", `bin\new.exe`, "2.0.0", AutoUpdated, `bin\new.exe`},
		{"needs decision", "bin/game.exe", "1.0.0", "bin/missing.exe", "2.0.0", NeedsDecision, "bin/game.exe"},
		{"existing target outside root", "bin/game.exe", "", "../evil.exe", "2.0.0", NeedsDecision, "bin/game.exe"},
		{"existing target outside root with backslashes", "bin/game.exe", "", `..\evil.exe`, "2.0.0", NeedsDecision, "bin/game.exe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &state.LocalState{LaunchExecutable: tt.local, IgnoredRemoteLaunchVersion: tt.ignored}
			m := &manifest.Manifest{LaunchExecutable: tt.remote, Version: tt.version}

			res := Resolve(root, st, m)
			if res.State != tt.wantState {
				t.Errorf("state = %v, want %v", res.State, tt.wantState)
			}
			if st.LaunchExecutable != tt.wantExe {
				t.Errorf("local executable = %q, want %q", st.LaunchExecutable, tt.wantExe)
			}
			if res.Executable != tt.remote || res.Version != tt.version {
				t.Errorf("proposal = %q@%q, want %q@%q", res.Executable, res.Version, tt.remote, tt.version)
			}
			if res.NeedsDecision() != (tt.wantState == NeedsDecision) {
				t.Errorf("NeedsDecision() = %v", res.NeedsDecision())
			}
		})
	}
}

func TestParseChoice(t *testing.T) {
	for in, want := range map[string]Choice{"once": IgnoreOnce, " Permanent ": IgnorePermanently, "CANCEL": Cancel} {
		got, err := ParseChoice(in)
		if err != nil {
			t.Fatalf("ParseChoice(%q) error: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseChoice(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := ParseChoice("ask"); err == nil {
		t.Error("expected error for unknown choice")
	}
}

func TestApply(t *testing.T) {
	res := Resolution{State: NeedsDecision, Executable: "bin/new.exe", Version: "2.0.0"}

	tests := []struct {
		choice      Choice
		wantLaunch  bool
		wantChanged bool
		wantIgnored string
	}{
		{IgnoreOnce, true, false, ""},
		{IgnorePermanently, true, true, "2.0.0"},
		{Cancel, false, false, ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.choice), func(t *testing.T) {
			st := &state.LocalState{LaunchExecutable: "bin/game.exe"}
			launch, changed := Apply(st, res, tt.choice)
			if launch != tt.wantLaunch || changed != tt.wantChanged {
				t.Errorf("Apply() = (%v, %v), want (%v, %v)", launch, changed, tt.wantLaunch, tt.wantChanged)
			}
			if st.IgnoredRemoteLaunchVersion != tt.wantIgnored {
				t.Errorf("ignored version = %q, want %q", st.IgnoredRemoteLaunchVersion, tt.wantIgnored)
			}
			if st.LaunchExecutable != "bin/game.exe" {
				t.Errorf("launch executable changed to %q", st.LaunchExecutable)
			}
		})
	}
}

func TestTarget(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "install")
	touch(t, filepath.Join(root, "bin", "game.exe"))
	touch(t, filepath.Join(base, "outside.exe"))
	if err := os.MkdirAll(filepath.Join(root, "dir.exe"), 0755); err != nil {
		t.Fatal(err)
	}

	got, err := Target(root, `bin\game.exe`)
	if err != nil {
		t.Fatalf("Target() error: %v", err)
	}
	if got != filepath.Join(root, "bin", "game.exe") {
		t.Errorf("Target() = %q", got)
	}

	escaping := []string{"../outside.exe", "bin/../../outside.exe", filepath.Join(base, "outside.exe")}
	for _, exe := range append([]string{"", "bin/missing.exe", "dir.exe"}, escaping...) {
		if _, err := Target(root, exe); !errors.Is(err, ErrTargetMissing) {
			t.Errorf("Target(%q) error = %v, want ErrTargetMissing", exe, err)
		}
	}
}

func TestRun(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "bin", "game.exe"))

	l := &mockLauncher{}
	ok, err := Run(context.Background(), l, root, "bin/game.exe", testLogger())
	if err != nil || !ok {
		t.Fatalf("Run() = (%v, %v), want (true, nil)", ok, err)
	}
	if l.path != filepath.Join(root, "bin", "game.exe") {
		t.Errorf("started %q", l.path)
	}
	if l.dir != filepath.Join(root, "bin") {
		t.Errorf("working directory = %q, want executable's directory", l.dir)
	}
}

func TestRun_MissingTargetIsSoft(t *testing.T) {
	l := &mockLauncher{}
	ok, err := Run(context.Background(), l, t.TempDir(), "bin/game.exe", testLogger())
	if err != nil || ok {
		t.Fatalf("Run() = (%v, %v), want (false, nil)", ok, err)
	}
	if l.calls != 0 {
		t.Error("launcher must not be called for a missing target")
	}
}

func TestRun_StartError(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "game.exe"))

	l := &mockLauncher{err: errors.New("boom")}
	ok, err := Run(context.Background(), l, root, "game.exe", testLogger())
	if ok || err == nil {
		t.Fatalf("Run() = (%v, %v), want (false, error)", ok, err)
	}
}

func TestExecLauncher(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script")
	}

	dir := t.TempDir()
	marker := filepath.Join(dir, "started")
	script := filepath.Join(dir, "run.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\npwd > started\n"), 0755); err != nil {
		t.Fatal(err)
	}

	if err := NewExecLauncher().Start(context.Background(), script, dir); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// The child is detached; poll for its side effect.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if data, err := os.ReadFile(marker); err == nil && len(data) > 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("launched process did not run")
}

func TestExecLauncher_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewExecLauncher().Start(ctx, "/nonexistent", "/"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
