package main

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// watchConcurrency bounds how many uploads run at once; each still
// streams through its own single-threaded Upload instance.
const watchConcurrency = 4

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <dir> <object-prefix>",
		Short: "Watch a directory and upload changed files",
		Args:  cobra.ExactArgs(2),
		RunE:  runWatch,
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	cc := appContextFrom(cmd.Context())
	dir, prefix := args[0], args[1]

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %q: %w", dir, err)
	}

	cc.Logger.Info("watching directory", "dir", dir, "object_prefix", prefix)

	ctx := cmd.Context()
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(watchConcurrency)

	for {
		select {
		case <-ctx.Done():
			return group.Wait()
		case event, ok := <-watcher.Events:
			if !ok {
				return group.Wait()
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			localPath := event.Name
			object := prefix + "/" + filepath.Base(localPath)

			group.Go(func() error {
				if uploadErr := uploadFile(gctx, cc, localPath, object); uploadErr != nil {
					cc.Logger.Warn("upload failed", "local_path", localPath, "error", uploadErr)
				}

				return nil
			})
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return group.Wait()
			}

			cc.Logger.Warn("watcher error", "error", watchErr)
		}
	}
}
