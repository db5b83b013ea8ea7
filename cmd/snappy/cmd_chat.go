// Copyright (C) 2026 Athrael Soju
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/athrael-soju/Snappy-sub002/pkg/ux"
	"github.com/athrael-soju/Snappy-sub002/services/orchestrator/datatypes"
	"github.com/spf13/cobra"
)

// buildChatRequest merges stored preferences with the current flag values.
// An explicit flag always beats the remembered setting.
func buildChatRequest(question string, prefs Preferences) *datatypes.ChatRequest {
	k := prefs.K
	if flagK > 0 {
		k = datatypes.ClampK(flagK)
	}
	effort := prefs.Effort
	if flagEffort != "" {
		effort = string(datatypes.ParseReasoningEffort(flagEffort))
	}
	summary := prefs.Summary
	if flagSummary != "" {
		summary = string(datatypes.ParseSummaryPreference(flagSummary))
	}

	return &datatypes.ChatRequest{
		Message:            question,
		K:                  k,
		ToolCallingEnabled: !flagNoTools,
		ReasoningEffort:    datatypes.ReasoningEffort(effort),
		Summary:            datatypes.SummaryPreference(summary),
		OCREnabled:         flagOCR,
		OCRIncludeImages:   flagOCRImages,
	}
}

// rememberSettings persists the settings that just produced an answer.
func rememberSettings(req *datatypes.ChatRequest) {
	err := SavePreferences(Preferences{
		K:       req.K,
		Effort:  string(req.ReasoningEffort),
		Summary: string(req.Summary),
	})
	if err != nil {
		log.Printf("Warning: could not save preferences: %v", err)
	}
}

// streamCallbacks renders the answer as it arrives. Sources print before
// the first text chunk so the user sees what the answer draws on.
func streamCallbacks() ux.Callbacks {
	styled := ux.IsInteractive()
	return ux.Callbacks{
		OnKbImages: func(docs []ux.DocumentRef) error {
			if len(docs) == 0 {
				return nil
			}
			if styled {
				fmt.Println(ux.FormatDocuments(docs))
			} else {
				for _, doc := range docs {
					fmt.Printf("[source] %s\n", doc.Label)
				}
			}
			return nil
		},
		OnDelta: func(delta string) error {
			fmt.Print(delta)
			return nil
		},
	}
}

func runAskCommand(cmd *cobra.Command, args []string) {
	question := strings.Join(args, " ")
	req := buildChatRequest(question, LoadPreferences())
	service := NewStreamingChatService(serverBaseURL())

	ctx, cancel := signalContext()
	defer cancel()

	result, err := service.Stream(ctx, req, streamCallbacks())
	fmt.Println()
	if err != nil {
		if result != nil && result.Answer != "" {
			// Partial answer already printed; report the break after it.
			log.Fatalf("Stream interrupted: %v", err)
		}
		log.Fatalf("Error: %v", err)
	}

	rememberSettings(req)
}

func runChatCommand(cmd *cobra.Command, args []string) {
	prefs := LoadPreferences()
	service := NewStreamingChatService(serverBaseURL())

	ctx, cancel := signalContext()
	defer cancel()

	if ux.IsInteractive() {
		fmt.Println(ux.Styles.Title.Render("Snappy"))
		fmt.Println(ux.Styles.Muted.Render("Ask about your documents. Type 'exit' to leave."))
	} else {
		fmt.Println("Snappy chat. Type 'exit' to leave.")
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if question == "exit" || question == "quit" {
			break
		}

		req := buildChatRequest(question, prefs)
		result, err := service.Stream(ctx, req, streamCallbacks())
		fmt.Println()

		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			fmt.Println("\nInterrupted.")
			return
		case err != nil && (result == nil || result.Answer == ""):
			fmt.Printf("Error: %v\n", err)
			continue
		case err != nil:
			fmt.Printf("(stream interrupted: %v)\n", err)
		}

		rememberSettings(req)
		prefs = LoadPreferences()
	}

	if err := scanner.Err(); err != nil {
		log.Fatalf("Reading input: %v", err)
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
