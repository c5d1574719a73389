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
	"path/filepath"

	"github.com/spf13/cobra"
)

func newIndexCmd() *cobra.Command {
	var projectName string
	var noRecursive bool

	cmd := &cobra.Command{
		Use:   "index <path>",
		Short: "Index a codebase directory into the vector store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if projectName == "" {
				abs, err := filepath.Abs(path)
				if err != nil {
					return userError("resolve path: %v", err)
				}
				projectName = filepath.Base(abs)
			}

			f, err := buildFacade(cmd.Context())
			if err != nil {
				return err
			}
			defer f.Close()

			env := f.IndexCodebase(cmd.Context(), path, projectName, !noRecursive)
			if env.Status != "success" {
				return userError("%s: %s", env.Error.Kind, env.Error.Detail)
			}

			data := env.Data.(map[string]any)
			fmt.Printf("%s files indexed, %s units indexed (%.2fs)\n",
				successStyle.Render(fmt.Sprint(data["files_indexed"])),
				successStyle.Render(fmt.Sprint(data["units_indexed"])),
				data["elapsed_s"])
			if errs, ok := data["errors"].([]string); ok && len(errs) > 0 {
				fmt.Println(dimStyle.Render(fmt.Sprintf("%d file(s) failed:", len(errs))))
				for _, e := range errs {
					fmt.Println(dimStyle.Render("  " + e))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&projectName, "project-name", "", "project name to tag indexed units with (defaults to the directory name)")
	cmd.Flags().BoolVar(&noRecursive, "no-recursive", false, "only index files directly under <path>, not subdirectories")
	return cmd
}
