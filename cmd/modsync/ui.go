package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/pterm/pterm"

	"github.com/schaermu/modsync/internal/launch"
	"github.com/schaermu/modsync/internal/scan"
	"github.com/schaermu/modsync/internal/sync"
)

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// progressUI renders sync status and progress. On a terminal it draws a pterm
// progress bar; otherwise status lines go to the logger.
type progressUI struct {
	interactive bool
	logger      *slog.Logger
	bar         *pterm.ProgressbarPrinter
}

func newProgressUI(interactive bool, logger *slog.Logger) *progressUI {
	return &progressUI{interactive: interactive, logger: logger}
}

// status and progress are called serialized by the engine.
func (u *progressUI) status(msg string) {
	if !u.interactive {
		u.logger.Info(msg)
		return
	}
	if u.bar != nil {
		u.bar.UpdateTitle(msg)
		return
	}
	pterm.Info.Println(msg)
}

func (u *progressUI) progress(fraction float64) {
	if !u.interactive {
		u.logger.Debug("sync progress", "percent", int(fraction*100))
		return
	}
	if u.bar == nil {
		bar, err := pterm.DefaultProgressbar.WithTotal(100).WithTitle("Syncing files").Start()
		if err != nil {
			u.logger.Warn("failed to start progress bar", "error", err)
			u.interactive = false
			return
		}
		u.bar = bar
	}
	if target := int(fraction * 100); target > u.bar.Current {
		u.bar.Add(target - u.bar.Current)
	}
}

func (u *progressUI) stop() {
	if u.bar != nil {
		_, _ = u.bar.Stop()
		u.bar = nil
	}
}

// decisionOptions maps prompt labels to choices, in display order.
var decisionOptions = []struct {
	label  string
	choice launch.Choice
}{
	{"Keep my executable this time", launch.IgnoreOnce},
	{"Keep my executable, don't ask again for this version", launch.IgnorePermanently},
	{"Cancel launch", launch.Cancel},
}

// resolveDecision turns the --on-mismatch flag into a choice, prompting when
// it is "ask" and stdin is a terminal.
func resolveDecision(flag string, out *sync.Outcome, interactive bool, logger *slog.Logger) (launch.Choice, error) {
	if flag != "ask" {
		return launch.ParseChoice(flag)
	}
	if !interactive {
		logger.Warn("launch executable changed and no terminal to ask; not launching",
			"configured", out.State.LaunchExecutable,
			"proposed", out.Launch.Executable)
		return launch.Cancel, nil
	}

	labels := make([]string, len(decisionOptions))
	for i, o := range decisionOptions {
		labels[i] = o.label
	}
	text := fmt.Sprintf("Version %s wants to launch %q but %q is configured",
		out.Launch.Version, out.Launch.Executable, out.State.LaunchExecutable)

	selected, err := pterm.DefaultInteractiveSelect.
		WithOptions(labels).
		WithDefaultText(text).
		Show()
	if err != nil {
		return "", fmt.Errorf("failed to read launch decision: %w", err)
	}
	for _, o := range decisionOptions {
		if o.label == selected {
			return o.choice, nil
		}
	}
	return launch.Cancel, nil
}

func statusColor(s scan.Status) pterm.Color {
	switch s {
	case scan.Managed:
		return pterm.FgGreen
	case scan.Ignored:
		return pterm.FgGray
	default:
		return pterm.FgYellow
	}
}

// renderTree draws the scan tree with pterm on a terminal and as indented
// "status path" lines otherwise.
func renderTree(w io.Writer, nodes []*scan.Node, interactive bool) error {
	if !interactive {
		var walk func(n *scan.Node, depth int)
		walk = func(n *scan.Node, depth int) {
			_, _ = fmt.Fprintf(w, "%-9s %*s%s\n", n.Status, depth*2, "", n)
			for _, ch := range n.Children {
				walk(ch, depth+1)
			}
		}
		for _, n := range nodes {
			walk(n, 0)
		}
		return nil
	}

	var convert func(n *scan.Node) pterm.TreeNode
	convert = func(n *scan.Node) pterm.TreeNode {
		tn := pterm.TreeNode{Text: statusColor(n.Status).Sprint(n.String())}
		for _, ch := range n.Children {
			tn.Children = append(tn.Children, convert(ch))
		}
		return tn
	}
	root := pterm.TreeNode{Text: "."}
	for _, n := range nodes {
		root.Children = append(root.Children, convert(n))
	}
	out, err := pterm.DefaultTree.WithRoot(root).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(w, out)
	return err
}
