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
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report storage backend, mode, and memory counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := buildFacade(cmd.Context())
			if err != nil {
				return err
			}
			defer f.Close()

			env := f.GetStatus(cmd.Context())
			if env.Status != "success" {
				return userError("%s: %s", env.Error.Kind, env.Error.Detail)
			}

			data := env.Data.(map[string]any)
			fmt.Printf("storage backend:  %v\n", data["storage_backend"])
			fmt.Printf("read-only mode:   %v\n", data["read_only_mode"])
			fmt.Printf("memory count:     %v\n", data["memory_count"])
			fmt.Printf("collections:      %v\n", data["collections"])
			fmt.Printf("uptime:           %.1fs\n", data["uptime_s"])
			return nil
		},
	}
}
