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
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianNewswire/pkg/ux"
	"github.com/spf13/cobra"
)

func runHealth(cmd *cobra.Command, args []string) {
	report, err := apiClient.Health(context.Background())
	if err != nil {
		log.Fatalf("Service unreachable at %s: %v", serverURL, err)
	}

	if report.Status == "ok" {
		ux.Success("newswire is healthy (%s)", serverURL)
	} else {
		ux.Warn("newswire is %s (%s)", report.Status, serverURL)
	}

	names := make([]string, 0, len(report.Components))
	for name := range report.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		state := report.Components[name]
		switch {
		case state == "ok":
			fmt.Printf("  %-10s ok\n", name)
		case state == "not configured":
			ux.Dim("  %-10s not configured", name)
		case strings.HasPrefix(state, "error"):
			ux.Error("  %-10s %s", name, state)
		default:
			fmt.Printf("  %-10s %s\n", name, state)
		}
	}
}
