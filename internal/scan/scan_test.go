package scan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"github.com/schaermu/modsync/internal/state"
)

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"Mods/*", "Mods/a.jar", true},
		{"Mods/*", "Mods/sub/a.jar", true},
		{"mods/*", "MODS/A.JAR", true},
		{"*.log", "logs/latest.log", true},
		{"*.log", "latest.log.bak", false},
		{"Config/?.cfg", "Config/a.cfg", true},
		{"Config/?.cfg", "Config/ab.cfg", false},
		{`Mods\custom\*`, "Mods/custom/x.jar", true},
		{"Mods/*", `Mods\x.jar`, true},
		{"Mods/a+b.jar", "Mods/a+b.jar", true},
		{"Mods/a.jar", "Mods/aXjar", false},
		{"Mods", "Mods/a.jar", false},
		{"", "anything", false},
		{"   ", "anything", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.path, func(t *testing.T) {
			if got := Match(tt.pattern, tt.path); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
			}
		})
	}
}

func TestRoots(t *testing.T) {
	st := &state.LocalState{
		ManagedFiles:   []string{"Mods/a.jar", `mods\b.jar`, "game.exe", "Scripts/run.lua"},
		IgnorePatterns: []string{"Saves/*", "*.log", "  "},
	}

	got := Roots(st, DefaultExtraRoots)
	want := []string{"Mods", "game.exe", "Scripts", "Saves", "*.log", "Config"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Roots() = %v, want %v", got, want)
	}
}

func TestClassify(t *testing.T) {
	st := &state.LocalState{
		ManagedFiles:   []string{"Mods/a.jar", "Mods/lib/core.jar"},
		IgnorePatterns: []string{"Mods/custom/*", "*.bak", "Mods/a.jar"},
	}

	tests := []struct {
		name  string
		rel   string
		isDir bool
		want  Status
	}{
		{"managed file", "Mods/a.jar", false, Managed},
		{"managed case-insensitive", `mods\A.JAR`, false, Managed},
		{"managed wins over ignore", "Mods/a.jar", false, Managed},
		{"dir containing managed", "Mods/lib", true, Managed},
		{"top dir containing managed", "Mods", true, Managed},
		{"prefix is not a dir match", "Mods/li", true, Untracked},
		{"ignored file", "Mods/custom/x.jar", false, Ignored},
		{"ignored dir itself", "Mods/custom", true, Ignored},
		{"dir rule only applies to dirs", "Mods/custom", false, Untracked},
		{"wildcard extension", "Config/old.bak", false, Ignored},
		{"untracked", "Mods/stray.jar", false, Untracked},
	}

	c := NewClassifier(st)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.rel, tt.isDir); got != tt.want {
				t.Errorf("Classify(%q, %v) = %v, want %v", tt.rel, tt.isDir, got, tt.want)
			}
			if got := Classify(tt.rel, st, tt.isDir); got != tt.want {
				t.Errorf("package Classify(%q, %v) = %v, want %v", tt.rel, tt.isDir, got, tt.want)
			}
		})
	}
}

func TestFindUntracked(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"Mods/a.jar":           "a",
		"Mods/stray.jar":       "s",
		"Mods/custom/mine.jar": "m",
		"Config/b.cfg":         "b",
		"Config/extra.cfg":     "e",
		"Config/old.bak":       "o",
		"Other/outside.txt":    "not scanned",
		"root.txt":             "not scanned",
	})

	st := &state.LocalState{
		ManagedFiles:   []string{"Mods/a.jar", "Config/b.cfg"},
		IgnorePatterns: []string{"Mods/custom/*", "*.bak"},
	}

	got, err := FindUntracked(context.Background(), dir, st, DefaultExtraRoots)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"Config/extra.cfg", "Mods/stray.jar"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FindUntracked() = %v, want %v", got, want)
	}
}

func TestFindUntracked_MissingRoots(t *testing.T) {
	st := &state.LocalState{ManagedFiles: []string{"Nothing/here.txt"}}

	got, err := FindUntracked(context.Background(), t.TempDir(), st, DefaultExtraRoots)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected no untracked files, got %v", got)
	}
}

func TestFindUntracked_Canceled(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"Mods/a.jar": "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FindUntracked(ctx, dir, &state.LocalState{}, DefaultExtraRoots)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTree(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"Mods/a.jar":           "a",
		"Mods/lib/core.jar":    "c",
		"Mods/custom/mine.jar": "m",
		"Config/b.cfg":         "b",
		"Config/zz/notes.txt":  "n",
	})

	st := &state.LocalState{
		ManagedFiles:   []string{"Mods/a.jar", "Mods/lib/core.jar", "Config/b.cfg"},
		IgnorePatterns: []string{"Mods/custom/*"},
	}

	nodes, err := Tree(context.Background(), dir, st, DefaultExtraRoots)
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(nodes))
	}

	mods := nodes[0]
	if mods.Path != "Mods" || !mods.IsDir {
		t.Fatalf("unexpected first root %+v", mods)
	}
	// Mixed managed and ignored children make the directory untracked.
	if mods.Status != Untracked {
		t.Errorf("Mods status = %v, want untracked", mods.Status)
	}

	var names []string
	for _, ch := range mods.Children {
		names = append(names, ch.String())
	}
	wantNames := []string{"custom/", "lib/", "a.jar"}
	if !reflect.DeepEqual(names, wantNames) {
		t.Errorf("children = %v, want %v", names, wantNames)
	}
	if mods.Children[0].Status != Ignored {
		t.Errorf("custom status = %v, want ignored", mods.Children[0].Status)
	}
	if mods.Children[1].Status != Managed {
		t.Errorf("lib status = %v, want managed", mods.Children[1].Status)
	}

	entries, err := Entries(context.Background(), dir, st, DefaultExtraRoots)
	if err != nil {
		t.Fatal(err)
	}
	var untracked []string
	for _, e := range entries {
		if !e.IsDir && e.Status == Untracked {
			untracked = append(untracked, e.Path)
		}
	}
	if !reflect.DeepEqual(untracked, []string{"Config/zz/notes.txt"}) {
		t.Errorf("untracked entries = %v", untracked)
	}
	if entries[0].Depth != 0 || entries[1].Depth != 1 {
		t.Errorf("unexpected depths %d, %d", entries[0].Depth, entries[1].Depth)
	}
}

func TestStatusString(t *testing.T) {
	for s, want := range map[Status]string{Managed: "managed", Ignored: "ignored", Untracked: "untracked"} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}

func TestDiscoverFiles(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"bin/game.exe":      "exe",
		"Mods/a.jar":        "a",
		"Mods/sub/b.jar":    "b",
		".hidden":           "should be ignored",
		".git/config":       "should be ignored",
		"Mods/.cache/c.bin": "should be ignored",
	})

	got, err := DiscoverFiles(dir)
	if err != nil {
		t.Fatal(err)
	}

	var rel []string
	for _, p := range got {
		r, err := filepath.Rel(dir, p)
		if err != nil {
			t.Fatal(err)
		}
		rel = append(rel, filepath.ToSlash(r))
	}
	sort.Strings(rel)

	want := []string{"Mods/a.jar", "Mods/sub/b.jar", "bin/game.exe"}
	if !reflect.DeepEqual(rel, want) {
		t.Errorf("DiscoverFiles() = %v, want %v", rel, want)
	}
}

func TestDiscoverFiles_MissingDir(t *testing.T) {
	if _, err := DiscoverFiles(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
