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
	"strings"

	"github.com/spf13/cobra"

	"github.com/claude-rag/core/internal/facade"
	"github.com/claude-rag/core/internal/retriever"
)

func newSearchCmd() *cobra.Command {
	var projectName string
	var language string
	var mode string
	var k int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed code by semantic similarity",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			f, err := buildFacade(cmd.Context())
			if err != nil {
				return err
			}
			defer f.Close()

			env := f.SearchCode(cmd.Context(), facade.SearchCodeRequest{
				Query:       query,
				ProjectName: projectName,
				Language:    language,
				Mode:        mode,
				K:           k,
			})
			if env.Status != "success" {
				return userError("%s: %s", env.Error.Kind, env.Error.Detail)
			}

			results := env.Data.([]retriever.Result)
			if len(results) == 0 {
				fmt.Println(dimStyle.Render("no results"))
				return nil
			}
			for i, r := range results {
				filePath, _ := r.Record.Metadata["file_path"].(string)
				fmt.Printf("%d. %s  score=%s\n", i+1, filePath, formatScore(r.AdjustedScore))
				snippet := r.Record.Content
				if len(snippet) > 200 {
					snippet = snippet[:200] + "..."
				}
				fmt.Println(dimStyle.Render("   " + strings.ReplaceAll(snippet, "\n", "\n   ")))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&projectName, "project", "", "project name to search within")
	cmd.Flags().StringVar(&language, "language", "", "restrict results to a source language")
	cmd.Flags().StringVar(&mode, "mode", "", "search mode: semantic, keyword, or hybrid (default semantic)")
	cmd.Flags().IntVar(&k, "k", 5, "maximum number of results")
	return cmd
}
