package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/schaermu/modsync/internal/launch"
	"github.com/schaermu/modsync/internal/manifest"
	"github.com/schaermu/modsync/internal/origin"
	"github.com/schaermu/modsync/internal/publish"
	"github.com/schaermu/modsync/internal/scan"
	"github.com/schaermu/modsync/internal/state"
	"github.com/schaermu/modsync/internal/sync"
)

var (
	// sync flags
	onMismatch string
	noLaunch   bool

	// files flags
	untrackedOnly bool

	// publish flags
	publishOutput          string
	publishVersion         string
	publishInfo            string
	publishBaseURL         string
	publishLaunch          string
	publishAppendVersion   bool
	publishSegmentFromPath bool
	publishExclude         []string
	publishNoProfile       bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Update the installation from its manifest and launch it",
	Long: `Sync fetches the manifest the installation was initialized with, downloads
every file whose digest differs when the remote version is newer, removes files
the new manifest no longer lists, and starts the launch executable.

When the manifest proposes a different launch executable that does not exist
locally, --on-mismatch decides what happens. "ask" prompts on a terminal.`,
	RunE: runSync,
}

var initCmd = &cobra.Command{
	Use:   "init <manifest-url>",
	Short: "Point the installation at a remote manifest",
	Args:  cobra.ExactArgs(1),
	RunE:  runInit,
}

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Start the configured executable without updating",
	RunE:  runLaunch,
}

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Show managed, ignored and untracked files below the install root",
	RunE:  runFiles,
}

var publishCmd = &cobra.Command{
	Use:   "publish <dir>",
	Short: "Generate a manifest for a release directory",
	Long: `Publish hashes every file below dir and writes a manifest describing them.
Settings are remembered in the publisher profile so the next run proposes the
next patch version with the same base URL and launch executable.`,
	Args: cobra.ExactArgs(1),
	RunE: runPublish,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the configured publish directory to clients",
	Long: `Serve starts a long-running HTTP server that publishes serve.publish_dir:
the manifest under /manifest.json and the files under /files/. A signed POST to
/-/rebuild regenerates the manifest after the directory changed.`,
	RunE: runServe,
}

func init() {
	syncCmd.Flags().StringVar(&onMismatch, "on-mismatch", "ask", "launch executable mismatch handling (ask, once, permanent, cancel)")
	syncCmd.Flags().BoolVar(&noLaunch, "no-launch", false, "update only, never start the executable")

	filesCmd.Flags().BoolVar(&untrackedOnly, "untracked", false, "list only untracked files")

	publishCmd.Flags().StringVarP(&publishOutput, "output", "o", "manifest.json", "manifest output file")
	publishCmd.Flags().StringVar(&publishVersion, "version", "", "manifest version (default is the profile's next patch version)")
	publishCmd.Flags().StringVar(&publishInfo, "info", "", "release notes shown to clients")
	publishCmd.Flags().StringVar(&publishBaseURL, "base-url", "", "base download URL of the files")
	publishCmd.Flags().StringVar(&publishLaunch, "launch", "", "executable clients start after syncing")
	publishCmd.Flags().BoolVar(&publishAppendVersion, "append-version", true, "append the version to the base URL")
	publishCmd.Flags().BoolVar(&publishSegmentFromPath, "segment-from-path", false, "download files by relative path instead of file name")
	publishCmd.Flags().StringSliceVar(&publishExclude, "exclude", nil, "wildcard patterns of files to leave out")
	publishCmd.Flags().BoolVar(&publishNoProfile, "no-profile", false, "neither read nor update the publisher profile")
}

func runSync(cmd *cobra.Command, args []string) error {
	if onMismatch != "ask" {
		if _, err := launch.ParseChoice(onMismatch); err != nil {
			return err
		}
	}

	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engine := sync.NewEngine(cfg, launch.NewExecLauncher(), logger, noLaunch)
	interactive := isTerminal(os.Stdout)
	ui := newProgressUI(interactive, logger)

	out := engine.RunUpdateAndLaunch(ctx, ui.status, ui.progress)
	ui.stop()

	if !out.Success {
		if errors.Is(out.Err, sync.ErrConfigMissing) || errors.Is(out.Err, sync.ErrConfigIncomplete) {
			logger.Error("installation is not initialized, run 'modsync init <manifest-url>' first")
		}
		return fmt.Errorf("sync failed (%s): %w", out.ErrorKind, out.Err)
	}

	if out.NeedsDecision() {
		choice, err := resolveDecision(onMismatch, out, interactive && isTerminal(os.Stdin), logger)
		if err != nil {
			return err
		}
		if _, err := engine.ApplyLaunchDecision(ctx, out, choice); err != nil {
			return fmt.Errorf("failed to apply launch decision: %w", err)
		}
	}

	installed := ""
	if out.State != nil {
		installed = out.State.CurrentVersion
	}
	logger.Info("sync finished",
		"version", installed,
		"updated", out.Updated,
		"downloaded", out.Downloaded,
		"skipped", out.Skipped,
		"untracked", len(out.Untracked),
		"admin_mode", out.AdminMode,
		"launched", out.AppLaunched)

	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engine := sync.NewEngine(cfg, launch.NewExecLauncher(), logger, true)
	st, err := engine.InitializeFromRemote(ctx, args[0])
	if err != nil {
		return err
	}

	pterm.Success.Printfln("initialized %s for %s (launches %s)", cfg.Paths.RootDir, st.UpdateURL, st.LaunchExecutable)
	return nil
}

func runLaunch(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engine := sync.NewEngine(cfg, launch.NewExecLauncher(), logger, false)
	st, err := engine.Store().Load()
	if err != nil {
		return err
	}
	if st == nil {
		return sync.ErrConfigMissing
	}

	launched, err := engine.Launch(ctx, st)
	if err != nil {
		return err
	}
	if !launched {
		return fmt.Errorf("%w: %s", launch.ErrTargetMissing, st.LaunchExecutable)
	}
	return nil
}

func runFiles(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	st, err := cfg.Store().Load()
	if err != nil {
		return err
	}
	if st == nil {
		logger.Warn("installation is not initialized, every file is untracked")
		st = state.NewLocalState("", "")
	}

	w := cmd.OutOrStdout()
	if untrackedOnly {
		files, err := scan.FindUntracked(ctx, cfg.Paths.RootDir, st, cfg.Scan.ExtraRoots)
		if err != nil {
			return err
		}
		for _, f := range files {
			_, _ = fmt.Fprintln(w, f)
		}
		return nil
	}

	nodes, err := scan.Tree(ctx, cfg.Paths.RootDir, st, cfg.Scan.ExtraRoots)
	if err != nil {
		return err
	}
	return renderTree(w, nodes, w == os.Stdout && isTerminal(os.Stdout))
}

func runPublish(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	dir, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	output, err := filepath.Abs(publishOutput)
	if err != nil {
		return err
	}

	var profile *publish.Profile
	if !publishNoProfile {
		if profile, err = publish.LoadProfile(cfg.Paths.PublisherProfile); err != nil {
			return err
		}
	}

	opts := publish.OptionsFromProfile(profile)
	flags := cmd.Flags()
	if flags.Changed("version") {
		opts.Version = publishVersion
	}
	if flags.Changed("info") {
		opts.Info = publishInfo
	}
	if flags.Changed("base-url") {
		opts.BaseDownloadURL = publishBaseURL
	}
	if flags.Changed("launch") {
		opts.LaunchExecutable = publishLaunch
	}
	if flags.Changed("append-version") {
		opts.AppendVersionToPath = publishAppendVersion
	}
	opts.SegmentFromPath = publishSegmentFromPath
	opts.Exclude = publishExclude
	// never list the manifest itself when it is written into the release
	if rel, err := filepath.Rel(dir, output); err == nil && filepath.IsLocal(rel) {
		opts.Exclude = append(opts.Exclude, filepath.ToSlash(rel))
	}

	if opts.BaseDownloadURL == "" {
		logger.Warn("no base download URL set, clients can only fetch files with an override URL")
	}

	m, err := publish.Generate(ctx, dir, opts, logger)
	if err != nil {
		return err
	}

	data, err := manifest.Encode(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	if !publishNoProfile {
		if err := publish.SaveProfile(cfg.Paths.PublisherProfile, opts.Profile()); err != nil {
			return fmt.Errorf("failed to save publisher profile: %w", err)
		}
	}

	pterm.Success.Printfln("manifest %s with %d files written to %s", m.Version, len(m.Files), output)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Serve.Enabled {
		return errors.New("serve is disabled, set serve.enabled in the configuration")
	}

	server, err := origin.NewServer(cfg, logger)
	if err != nil {
		return err
	}
	return server.Start(ctx)
}
