// Copyright (C) 2026 Athrael Soju
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/athrael-soju/Snappy-sub002/services/orchestrator/datatypes"
	"github.com/spf13/cobra"
)

// visualRequestTimeout bounds the heatmap and similarity-map round trips.
// These are single JSON replies, not streams, so a deadline is safe.
const visualRequestTimeout = 2 * time.Minute

func runHeatmapCommand(cmd *cobra.Command, args []string) {
	req := datatypes.HeatmapRequest{
		Query:    args[0],
		ImageURL: args[1],
		Strategy: flagStrategy,
	}
	if err := req.Validate(); err != nil {
		log.Fatalf("Invalid request: query and a valid image URL are required")
	}

	body, err := json.Marshal(req)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	client := &http.Client{Timeout: visualRequestTimeout}
	resp, err := client.Post(serverBaseURL()+"/api/heatmap", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("Error contacting orchestrator: %v", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Orchestrator returned status %d: %s", resp.StatusCode, string(raw))
	}

	var heatmap datatypes.HeatmapResponse
	if err := json.Unmarshal(raw, &heatmap); err != nil {
		log.Fatalf("Failed to parse heatmap response: %v", err)
	}

	printHeatmapSummary(&heatmap)
}

// printHeatmapSummary reports the grid shape, the display bounds, and the
// strongest-matching patch. Dumping the full value grid to a terminal is
// useless; anyone who wants it can curl the endpoint.
func printHeatmapSummary(h *datatypes.HeatmapResponse) {
	fmt.Printf("Grid: %d x %d (%d patches)\n", h.Rows, h.Cols, len(h.Values))
	fmt.Printf("Display bounds: [%.4f, %.4f]\n", h.Bounds[0], h.Bounds[1])

	if len(h.Values) == 0 || h.Cols == 0 {
		return
	}
	bestIdx := 0
	for i, v := range h.Values {
		if v > h.Values[bestIdx] {
			bestIdx = i
		}
	}
	fmt.Printf("Strongest patch: row %d, col %d (%.4f)\n",
		bestIdx/h.Cols, bestIdx%h.Cols, h.Values[bestIdx])
}

func runSimMapCommand(cmd *cobra.Command, args []string) {
	query, imagePath := args[0], args[1]

	file, err := os.Open(imagePath)
	if err != nil {
		log.Fatalf("Cannot open image: %v", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("query", query); err != nil {
		log.Fatalf("Error: %v", err)
	}
	if flagToken != "" {
		if err := writer.WriteField("token", flagToken); err != nil {
			log.Fatalf("Error: %v", err)
		}
	}
	part, err := writer.CreateFormFile("file", filepath.Base(imagePath))
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		log.Fatalf("Error reading image: %v", err)
	}
	if err := writer.Close(); err != nil {
		log.Fatalf("Error: %v", err)
	}

	client := &http.Client{Timeout: visualRequestTimeout}
	resp, err := client.Post(serverBaseURL()+"/api/similarity-map", writer.FormDataContentType(), &body)
	if err != nil {
		log.Fatalf("Error contacting orchestrator: %v", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Orchestrator returned status %d: %s", resp.StatusCode, string(raw))
	}

	// The backend body passes through the orchestrator untouched. Re-indent
	// it for the terminal when it is valid JSON.
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(pretty.String())
}
