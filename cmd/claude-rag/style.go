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

	"github.com/charmbracelet/lipgloss"
)

var (
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func styleError(msg string) string {
	return errorStyle.Render("error: ") + msg
}

// confidenceLabel renders a retrieval score as the excellent/good/fair/poor
// band a terminal reader can scan at a glance, using the same thresholds
// as retriever.Result.Confidence (excellent > 0.8, good >= 0.6,
// fair >= 0.4, poor below).
func confidenceLabel(score float64) string {
	switch {
	case score > 0.8:
		return successStyle.Render("excellent")
	case score >= 0.6:
		return successStyle.Render("good")
	case score >= 0.4:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Render("fair")
	default:
		return dimStyle.Render("poor")
	}
}

func formatScore(score float64) string {
	return fmt.Sprintf("%.3f (%s)", score, confidenceLabel(score))
}
