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
	"time"

	"github.com/AleutianAI/AleutianNewswire/pkg/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ===== Global Command Variables =====

var (
	serverURL      string
	requestTimeout time.Duration
	verbose        bool
	userID         string

	// Pipeline flags
	numResults int
	maxCards   int
	window     string
	stageList  string
	waitFlag   bool

	// Chat flags
	resumeSession string
	chatRunID     string
	noMemory      bool
	noPersonalize bool

	// Trends / sessions flags
	trendWindow  string
	sessionLimit int

	// Profile flags
	responseLength string
	formality      string
	detailDepth    string
	sourcesFlag    string

	apiClient *Client
	logger    *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "newsctl",
		Short: "A cli for the AleutianNewswire news pipeline and dialogue service",
		Long: `newsctl drives the AleutianNewswire service: run news processing
pipelines, browse trending stories, chat with the RAG dialogue engine,
and inspect topic trends and user profiles.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			loadConfig(cmd)
			level := logging.LevelWarn
			if verbose {
				level = logging.LevelDebug
			}
			logger = logging.New(logging.Config{
				Level:   level,
				Service: "newsctl",
			})
			apiClient = NewClient(serverURL, requestTimeout, logger)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Close()
			}
		},
	}

	// --- Pipeline ---
	processCmd = &cobra.Command{
		Use:   "process [query]",
		Short: "Run the full news pipeline for a query",
		Args:  cobra.MinimumNArgs(1),
		Run:   runProcess, // Defined in cmd_pipeline.go
	}
	quickCmd = &cobra.Command{
		Use:   "quick [query]",
		Short: "Run the cards-only quick pipeline for a query",
		Args:  cobra.MinimumNArgs(1),
		Run:   runQuick, // Defined in cmd_pipeline.go
	}
	statusCmd = &cobra.Command{
		Use:   "status [run_id]",
		Short: "Fetch a retained pipeline run by id",
		Args:  cobra.ExactArgs(1),
		Run:   runRunStatus, // Defined in cmd_pipeline.go
	}

	// --- Chat ---
	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive dialogue session about processed news",
		Run:   runChatCommand, // Defined in cmd_chat.go
	}
	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and print the grounded answer",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAskCommand, // Defined in cmd_chat.go
	}

	// --- Sessions ---
	sessionCmd = &cobra.Command{
		Use:   "session",
		Short: "Manage dialogue sessions",
	}
	listSessionsCmd = &cobra.Command{
		Use:   "list",
		Short: "List dialogue sessions, newest activity first",
		Run:   runListSessions, // Defined in cmd_sessions.go
	}
	deleteSessionCmd = &cobra.Command{
		Use:   "delete [session_id]",
		Short: "Delete a session, its turns, and its cached embeddings",
		Args:  cobra.ExactArgs(1),
		Run:   runDeleteSession, // Defined in cmd_sessions.go
	}
	historyCmd = &cobra.Command{
		Use:   "history [session_id]",
		Short: "Print a session transcript",
		Args:  cobra.ExactArgs(1),
		Run:   runHistory, // Defined in cmd_sessions.go
	}

	// --- Browse ---
	newsCmd = &cobra.Command{
		Use:   "news",
		Short: "Browse current news without composing a query",
	}
	trendingCmd = &cobra.Command{
		Use:   "trending",
		Short: "Show cards for today's top trending stories",
		Run:   runTrending, // Defined in cmd_news.go
	}
	categoryCmd = &cobra.Command{
		Use:   "category [name]",
		Short: "Show cards for one category (technology, business, ...)",
		Args:  cobra.ExactArgs(1),
		Run:   runCategory, // Defined in cmd_news.go
	}

	// --- Trends ---
	trendsCmd = &cobra.Command{
		Use:   "trends [topic]",
		Short: "Show mention counts and sentiment for a topic over time",
		Args:  cobra.ExactArgs(1),
		Run:   runTopicTrends, // Defined in cmd_trends.go
	}

	// --- Health ---
	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Probe the service and its backing providers",
		Run:   runHealth, // Defined in cmd_health.go
	}

	// --- User ---
	userCmd = &cobra.Command{
		Use:   "user",
		Short: "Inspect and manage a user's profile and memory",
	}
	profileShowCmd = &cobra.Command{
		Use:   "profile",
		Short: "Show the derived profile for a user",
		Run:   runProfileShow, // Defined in cmd_user.go
	}
	profileSetCmd = &cobra.Command{
		Use:   "set",
		Short: "Update style preferences and preferred sources",
		Run:   runProfileSet, // Defined in cmd_user.go
	}
	clearMemoryCmd = &cobra.Command{
		Use:   "forget",
		Short: "DANGER: Erase everything stored for a user",
		Run:   runClearMemory, // Defined in cmd_user.go
	}
)

// loadConfig layers ~/.newswire.yaml and NEWSWIRE_* environment
// variables under the flags. A missing config file is not an error.
func loadConfig(cmd *cobra.Command) {
	v := viper.New()
	v.SetConfigName(".newswire")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME")
	v.AddConfigPath(".")
	v.SetEnvPrefix("NEWSWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault("server-url", "http://localhost:12310")
	v.SetDefault("timeout", "10m")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Printf("Warning: ignoring unreadable config file: %v\n", err)
		}
	}

	if !cmd.Flags().Changed("server") {
		serverURL = v.GetString("server-url")
	}
	if !cmd.Flags().Changed("timeout") {
		requestTimeout = v.GetDuration("timeout")
	}
	if !cmd.Flags().Changed("user") {
		if configured := v.GetString("user-id"); configured != "" {
			userID = configured
		}
	}
	serverURL = strings.TrimRight(serverURL, "/")
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:12310",
		"Base URL of the newswire service")
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "timeout", 10*time.Minute,
		"HTTP timeout; full pipeline runs can take minutes")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "anonymous",
		"User id attached to requests (drives personalization)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Log request details to stderr")

	// Pipeline
	rootCmd.AddCommand(processCmd)
	processCmd.Flags().IntVar(&numResults, "results", 10, "Number of provider results to request (0-100)")
	processCmd.Flags().IntVar(&maxCards, "cards", 5, "Maximum news cards to synthesize (1-10)")
	processCmd.Flags().StringVar(&window, "window", "1w", "Lookback window: 1d, 1w, 1m, or 1y")
	processCmd.Flags().StringVar(&stageList, "stages", "",
		"Comma-separated stages to enable (store,index,analyze,card,sentiment,memory); empty runs all")
	processCmd.Flags().BoolVar(&waitFlag, "wait", false, "Queue behind an in-flight run instead of failing busy")

	rootCmd.AddCommand(quickCmd)
	quickCmd.Flags().IntVar(&numResults, "results", 10, "Number of provider results to request (0-100)")
	quickCmd.Flags().IntVar(&maxCards, "cards", 5, "Maximum news cards to synthesize (1-10)")
	quickCmd.Flags().StringVar(&window, "window", "1d", "Lookback window: 1d, 1w, 1m, or 1y")

	rootCmd.AddCommand(statusCmd)

	// Chat
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&resumeSession, "resume", "", "Resume a conversation using a specific session ID")
	chatCmd.Flags().StringVar(&chatRunID, "run", "", "Restrict retrieval to articles from one pipeline run")
	chatCmd.Flags().BoolVar(&noMemory, "no-memory", false, "Skip recording this conversation in user memory")
	chatCmd.Flags().BoolVar(&noPersonalize, "no-personalize", false, "Disable profile-driven response shaping")

	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVar(&chatRunID, "run", "", "Restrict retrieval to articles from one pipeline run")
	askCmd.Flags().StringVar(&resumeSession, "session", "", "Continue an existing session")

	// Sessions
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(listSessionsCmd)
	listSessionsCmd.Flags().IntVar(&sessionLimit, "limit", 20, "Maximum sessions to list (0 = no limit)")
	sessionCmd.AddCommand(deleteSessionCmd)
	sessionCmd.AddCommand(historyCmd)

	// Browse
	rootCmd.AddCommand(newsCmd)
	newsCmd.AddCommand(trendingCmd)
	newsCmd.AddCommand(categoryCmd)

	// Trends
	rootCmd.AddCommand(trendsCmd)
	trendsCmd.Flags().StringVar(&trendWindow, "window", "1w", "Aggregation window: 1d, 1w, 1m, or 1y")

	// Health
	rootCmd.AddCommand(healthCmd)

	// User
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(profileShowCmd)
	userCmd.AddCommand(profileSetCmd)
	profileSetCmd.Flags().StringVar(&responseLength, "length", "", "Response length: short, medium, or long")
	profileSetCmd.Flags().StringVar(&formality, "tone", "", "Formality: casual, neutral, or formal")
	profileSetCmd.Flags().StringVar(&detailDepth, "depth", "", "Detail depth: overview, balanced, or deep")
	profileSetCmd.Flags().StringVar(&sourcesFlag, "sources", "", "Comma-separated preferred source domains")
	userCmd.AddCommand(clearMemoryCmd)
	clearMemoryCmd.Flags().Bool("force", false, "Required to confirm the deletion of all user data")
}
