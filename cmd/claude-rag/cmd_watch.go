// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/claude-rag/core/internal/config"
	"github.com/claude-rag/core/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var projectName string

	cmd := &cobra.Command{
		Use:   "watch <path>",
		Short: "Watch a directory and keep the vector store in sync with file changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			abs, err := filepath.Abs(path)
			if err != nil {
				return userError("resolve path: %v", err)
			}
			if projectName == "" {
				projectName = filepath.Base(abs)
			}

			f, err := buildFacade(cmd.Context())
			if err != nil {
				return err
			}
			defer f.Close()
			if f.ReadOnly() {
				return userError("watch is a mutating operation; the facade is running in read-only mode")
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return environmentError("load config: %w", err)
			}
			w, err := watcher.New(watcher.Options{DebounceWindow: cfg.WatchDebounce})
			if err != nil {
				return environmentError("start watcher: %w", err)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			go func() {
				for {
					select {
					case batch, ok := <-w.Events():
						if !ok {
							return
						}
						if err := watcher.ApplyBatch(ctx, f.Indexer(), projectName, abs, batch); err != nil {
							fmt.Fprintln(os.Stderr, styleError(err.Error()))
						}
					case err, ok := <-w.Errors():
						if !ok {
							return
						}
						fmt.Fprintln(os.Stderr, styleError(err.Error()))
					case <-ctx.Done():
						return
					}
				}
			}()

			fmt.Printf("watching %s (project %q); Ctrl-C to stop\n", abs, projectName)
			if err := w.Start(ctx, abs); err != nil && ctx.Err() == nil {
				return environmentError("watcher stopped: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&projectName, "project-name", "", "project name to tag indexed units with (defaults to the directory name)")
	return cmd
}
