package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/modsync/internal/manifest"
)

func TestNewLocalState(t *testing.T) {
	st := NewLocalState("https://example.com/manifest.json", "bin/game.exe")

	assert.Equal(t, "0.0.0", st.CurrentVersion)
	assert.Equal(t, "https://example.com/manifest.json", st.UpdateURL)
	assert.Equal(t, "bin/game.exe", st.LaunchExecutable)
	assert.Nil(t, st.DownloadPolicy)
	assert.False(t, st.IgnoreSSLErrors)
	assert.Empty(t, st.IgnoredRemoteLaunchVersion)
	assert.NotNil(t, st.IgnorePatterns)
	assert.NotNil(t, st.ManagedFiles)
}

func TestStore_LoadMissing(t *testing.T) {
	s := NewStore(t.TempDir())

	st, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, st)
	assert.False(t, s.Exists())
}

func TestStore_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "nested"))

	st := NewLocalState("https://example.com/m.json", "game.exe")
	st.CurrentVersion = "1.2.3"
	st.IgnoreSSLErrors = true
	st.IgnorePatterns = []string{"Mods/custom/*", "*.log"}
	st.ManagedFiles = []string{"Mods/a.jar", "Config/b.cfg"}
	st.DownloadPolicy = &manifest.DownloadPolicy{
		EnableMultiFileDownload: true, MaxConcurrentFiles: 2,
	}

	require.NoError(t, s.Save(st))
	assert.True(t, s.Exists())

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, st, loaded)

	// No temp files are left next to the state file.
	entries, err := os.ReadDir(filepath.Dir(s.Path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, DefaultFileName, entries[0].Name())
}

func TestStore_LoadSnakeCaseDocument(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	doc := `{
  "current_version": "2.0.0",
  "update_url": "https://example.com/m.json",
  "launch_executable": "bin/run.exe",
  "download_control": null,
  "ignore_ssl_errors": false,
  "ignored_remote_launch_version": "1.9.0",
  "ignore_patterns": null,
  "managed_files": ["a.txt"]
}`
	require.NoError(t, os.WriteFile(s.Path, []byte(doc), 0644))

	st, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", st.CurrentVersion)
	assert.Equal(t, "1.9.0", st.IgnoredRemoteLaunchVersion)
	assert.Nil(t, st.DownloadPolicy)
	assert.Equal(t, []string{}, st.IgnorePatterns)
	assert.Equal(t, []string{"a.txt"}, st.ManagedFiles)
}

func TestStore_LoadCorrupt(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, os.WriteFile(s.Path, []byte("{not json"), 0644))

	_, err := s.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse state file")
}

func TestStore_SaveNil(t *testing.T) {
	s := NewStore(t.TempDir())
	assert.Error(t, s.Save(nil))
}

func TestStore_SkipFlag(t *testing.T) {
	s := NewStore(t.TempDir())

	assert.False(t, s.SkipFlagExists())
	require.NoError(t, s.CreateSkipFlag())
	assert.True(t, s.SkipFlagExists())
	require.NoError(t, s.CreateSkipFlag(), "creating twice is fine")
	require.NoError(t, s.DeleteSkipFlag())
	assert.False(t, s.SkipFlagExists())
	require.NoError(t, s.DeleteSkipFlag(), "deleting a missing flag is fine")
}

func TestLocalState_IsManaged(t *testing.T) {
	st := &LocalState{ManagedFiles: []string{`Mods\A.jar`, "config/b.cfg"}}

	assert.True(t, st.IsManaged("mods/a.jar"))
	assert.True(t, st.IsManaged(`Config\B.cfg`))
	assert.False(t, st.IsManaged("mods"))
	assert.False(t, st.IsManaged("other.txt"))
}

func TestLocalState_Clone(t *testing.T) {
	st := NewLocalState("u", "e")
	st.DownloadPolicy = &manifest.DownloadPolicy{MaxConcurrentFiles: 3}
	st.ManagedFiles = []string{"a"}

	c := st.Clone()
	c.DownloadPolicy.MaxConcurrentFiles = 9
	c.ManagedFiles[0] = "b"

	assert.Equal(t, 3, st.DownloadPolicy.MaxConcurrentFiles)
	assert.Equal(t, "a", st.ManagedFiles[0])
	assert.Nil(t, (*LocalState)(nil).Clone())
}
