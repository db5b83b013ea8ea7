// Copyright (C) 2026 Athrael Soju
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Shared flag values.
var (
	flagK         int
	flagNoTools   bool
	flagOCR       bool
	flagOCRImages bool
	flagEffort    string
	flagSummary   string
	flagStrategy  string
	flagToken     string
	flagServerURL string
)

var rootCmd = &cobra.Command{
	Use:   "snappy",
	Short: "Chat with your documents",
	Long: `Snappy is a document chat client. Ask questions against your uploaded
document collection, stream answers in real time, and inspect how queries
match page content with heatmaps and similarity maps.`,
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a single question and print the streamed answer",
	Args:  cobra.MinimumNArgs(1),
	Run:   runAskCommand,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Run:   runChatCommand,
}

var heatmapCmd = &cobra.Command{
	Use:   "heatmap [query] [image-url]",
	Short: "Score a query against a stored page image",
	Args:  cobra.ExactArgs(2),
	Run:   runHeatmapCommand,
}

var simMapCmd = &cobra.Command{
	Use:   "simmap [query] [image-file]",
	Short: "Score a query against a local page image",
	Args:  cobra.ExactArgs(2),
	Run:   runSimMapCommand,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServerURL, "server", "", "Orchestrator base URL (default $SNAPPY_SERVER_URL or http://localhost:8080)")

	for _, cmd := range []*cobra.Command{askCmd, chatCmd} {
		cmd.Flags().IntVarP(&flagK, "top-k", "k", 0, "Number of documents to retrieve (1-25, 0 = last used)")
		cmd.Flags().BoolVar(&flagNoTools, "no-tools", false, "Disable the retrieval tool; answer from the model alone")
		cmd.Flags().BoolVar(&flagOCR, "ocr", false, "Include extracted page text in the model context")
		cmd.Flags().BoolVar(&flagOCRImages, "ocr-images", false, "Also include cropped region images from OCR data")
		cmd.Flags().StringVar(&flagEffort, "effort", "", "Reasoning effort: minimal, low, medium, high")
		cmd.Flags().StringVar(&flagSummary, "summary", "", "Answer style: auto, concise, detailed")
	}

	heatmapCmd.Flags().StringVar(&flagStrategy, "strategy", "", "Normalization strategy: minmax, percentile, robust, zscore, mad")
	simMapCmd.Flags().StringVar(&flagToken, "token", "", "Focus on a single query token")

	rootCmd.AddCommand(askCmd, chatCmd, heatmapCmd, simMapCmd)
}

// serverBaseURL resolves the orchestrator URL: flag, then env, then the
// local default.
func serverBaseURL() string {
	if flagServerURL != "" {
		return flagServerURL
	}
	if url := os.Getenv("SNAPPY_SERVER_URL"); url != "" {
		return url
	}
	return "http://localhost:8080"
}
