package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/callscope/callscope/pkg/changes"
)

const defaultDebounce = 500 * time.Millisecond

// skippedDirs are never watched.
var skippedDirs = []string{"node_modules", ".git", "dist", "build", "coverage", ".next"}

func newWatchCmd() *cobra.Command {
	var (
		opts     analyzeOpts
		debounce time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run the analysis whenever TypeScript files change",
		Long: `Watches the workspace and re-analyzes the working tree against --base each
time .ts or .tsx files are saved. Bursts of changes are coalesced.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.depthSet = cmd.Flags().Changed("depth")
			opts.topSet = cmd.Flags().Changed("top")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, opts, debounce)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.baseRef, "base", "HEAD", "Base git ref to diff the working tree against")
	f.StringVar(&opts.repoPath, "repo-path", "", "Path to the workspace (default: detect from the working directory)")
	f.StringVar(&opts.project, "project", "", "Path to tsconfig.json relative to the workspace")
	f.IntVar(&opts.depth, "depth", -1, "Maximum caller depth for trees and entry points (-1 = unbounded)")
	f.IntVar(&opts.top, "top", 0, "Show at most this many changed functions (0 = all)")
	f.DurationVar(&debounce, "debounce", defaultDebounce, "Quiet period before re-running the analysis")

	return cmd
}

func runWatch(ctx context.Context, opts analyzeOpts, debounce time.Duration) error {
	wsRoot, err := resolveWorkspace(opts.repoPath)
	if err != nil {
		return err
	}
	opts.repoPath = wsRoot
	opts.output = "text"

	w, err := newChangeWatcher(wsRoot, debounce)
	if err != nil {
		return err
	}
	defer w.Close()

	analyze := func(ctx context.Context) {
		if err := runAnalyze(ctx, opts, os.Stdout); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}

	analyze(ctx)
	fmt.Fprintf(os.Stderr, "Watching %s for changes (Ctrl-C to stop)\n", wsRoot)

	err = w.Run(ctx, func(ctx context.Context, files []string) {
		fmt.Fprintf(os.Stderr, "\n--- %s: %d files changed ---\n", time.Now().Format(time.TimeOnly), len(files))
		analyze(ctx)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// changeWatcher coalesces file system events on TypeScript sources.
type changeWatcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger
}

func newChangeWatcher(root string, debounce time.Duration) (*changeWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	w := &changeWatcher{fsw: fsw, debounce: debounce, logger: slog.Default()}
	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *changeWatcher) Close() error {
	return w.fsw.Close()
}

func (w *changeWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != root && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

func skipDir(name string) bool {
	return slices.Contains(skippedDirs, name) || (strings.HasPrefix(name, ".") && len(name) > 1)
}

// Run blocks until ctx is done, calling onChange with the sorted set of
// TypeScript files touched during each burst of events.
func (w *changeWatcher) Run(ctx context.Context, onChange func(context.Context, []string)) error {
	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !skipDir(info.Name()) {
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Warn("watch new directory", "path", event.Name, "error", err)
					}
					continue
				}
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			if !changes.IsTracked(event.Name) {
				continue
			}
			pending[event.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)

		case <-timerC:
			timer, timerC = nil, nil
			files := make([]string, 0, len(pending))
			for f := range pending {
				files = append(files, f)
			}
			slices.Sort(files)
			clear(pending)
			onChange(ctx, files)
		}
	}
}
