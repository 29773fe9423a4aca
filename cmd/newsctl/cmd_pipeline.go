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
	"log"
	"strings"

	"github.com/AleutianAI/AleutianNewswire/pkg/ux"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/spf13/cobra"
)

func runProcess(cmd *cobra.Command, args []string) {
	req := pipelineRequest(args)
	req.Wait = waitFlag

	if stageList != "" {
		toggles, err := parseStages(stageList)
		if err != nil {
			log.Fatalf("Invalid --stages value: %v", err)
		}
		req.Stages = toggles
	} else {
		req.Stages = datatypes.AllStages()
	}

	spin := ux.NewSpinner("Running the news pipeline")
	spin.Start()
	run, err := apiClient.Process(context.Background(), req)
	spin.Stop()
	if err != nil {
		log.Fatalf("Pipeline run failed: %v", err)
	}
	ux.RenderRun(run)
}

func runQuick(cmd *cobra.Command, args []string) {
	req := pipelineRequest(args)
	req.Stages = datatypes.QuickStages()

	spin := ux.NewSpinner("Generating news cards")
	spin.Start()
	run, err := apiClient.Quick(context.Background(), req)
	spin.Stop()
	if err != nil {
		log.Fatalf("Quick run failed: %v", err)
	}
	ux.RenderRun(run)
}

func runRunStatus(cmd *cobra.Command, args []string) {
	run, err := apiClient.RunStatus(context.Background(), args[0])
	if err != nil {
		log.Fatalf("Could not fetch run %s: %v", args[0], err)
	}
	ux.RenderRun(run)
}

func pipelineRequest(args []string) datatypes.PipelineRequest {
	n := numResults
	m := maxCards
	return datatypes.PipelineRequest{
		Query:      strings.Join(args, " "),
		UserID:     userID,
		NumResults: &n,
		MaxCards:   &m,
		Window:     window,
	}
}

// parseStages maps a comma-separated stage list onto toggles. "memory"
// is accepted as shorthand for the memory-update stage.
func parseStages(list string) (datatypes.StageToggles, error) {
	var toggles datatypes.StageToggles
	for _, name := range strings.Split(list, ",") {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "store":
			toggles.Store = true
		case "index":
			toggles.Index = true
		case "analyze":
			toggles.Analyze = true
		case "card", "cards":
			toggles.Card = true
		case "sentiment":
			toggles.Sentiment = true
		case "memory", "memory_update":
			toggles.MemoryUpdate = true
		case "":
		default:
			return toggles, &unknownStageError{name: name}
		}
	}
	return toggles, nil
}

type unknownStageError struct {
	name string
}

func (e *unknownStageError) Error() string {
	return "unknown stage " + strings.TrimSpace(e.name) +
		" (valid: store, index, analyze, card, sentiment, memory)"
}
