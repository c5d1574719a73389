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
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/claude-rag/core/internal/config"
	"github.com/claude-rag/core/internal/facade"
)

// Exit codes follow the usual Unix convention of distinguishing user
// mistakes from environment problems from internal bugs, so scripts
// calling this CLI can branch on them.
const (
	exitSuccess     = 0
	exitUserError   = 1
	exitEnvironment = 2
	exitInternal    = 3
)

var configPath string

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:           "claude-rag",
		Short:         "Semantic memory and code search over a Qdrant-backed vector store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a JSON config file (env vars still take precedence)")

	root.AddCommand(newIndexCmd())
	root.AddCommand(newWatchCmd())
	root.AddCommand(newSearchCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newValidateInstallCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styleError(err.Error()))
		return exitCodeFor(err)
	}
	return exitSuccess
}

// exitCodeFor maps a command error to one of the CLI's three non-zero
// exit codes. cliError carries an explicit code; anything else is
// treated as an internal error since it escaped every command's own
// handling.
func exitCodeFor(err error) int {
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return exitInternal
}

// cliError pairs an error with the exit code the CLI should report for
// it, letting each command distinguish user mistakes from environment
// failures without main needing to know the specifics.
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

func userError(format string, args ...any) error {
	return &cliError{code: exitUserError, err: fmt.Errorf(format, args...)}
}

func environmentError(format string, args ...any) error {
	return &cliError{code: exitEnvironment, err: fmt.Errorf(format, args...)}
}

// buildFacade loads configuration and constructs a Facade, translating
// load/construction failures into an environment-class CLI error.
func buildFacade(ctx context.Context) (*facade.Facade, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, environmentError("load config: %w", err)
	}
	f, err := facade.New(ctx, cfg)
	if err != nil {
		return nil, environmentError("initialize: %w", err)
	}
	return f, nil
}
