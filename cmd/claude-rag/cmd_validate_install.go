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

	"github.com/spf13/cobra"

	"github.com/claude-rag/core/internal/config"
	"github.com/claude-rag/core/internal/embedding"
)

// newValidateInstallCmd checks that configuration loads and every
// downstream dependency (Qdrant, the embedder, the on-disk cache) is
// reachable, without performing any mutating operation.
func newValidateInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-install",
		Short: "Check configuration and connectivity to Qdrant and the embedder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return environmentError("load config: %w", err)
			}
			fmt.Println(successStyle.Render("✓") + " configuration loaded")
			fmt.Printf("  qdrant_url:      %s\n", cfg.QdrantURL)
			fmt.Printf("  collection_name: %s\n", cfg.CollectionName)
			fmt.Printf("  embedder_url:    %s\n", cfg.EmbedderURL)
			fmt.Printf("  read_only:       %v\n", cfg.ReadOnly)

			f, err := buildFacade(cmd.Context())
			if err != nil {
				return err
			}
			defer f.Close()

			env := f.GetStatus(cmd.Context())
			if env.Status != "success" {
				return environmentError("qdrant connectivity check failed: %s", env.Error.Detail)
			}

			emb := embedding.New(embedding.Config{URL: cfg.EmbedderURL, Model: cfg.EmbedderModel})
			defer emb.Close()
			if !emb.Available(cmd.Context()) {
				return environmentError("embedder connectivity check failed: %s", cfg.EmbedderURL)
			}
			fmt.Println(successStyle.Render("✓") + " connected to qdrant and the embedder")
			return nil
		},
	}
}
