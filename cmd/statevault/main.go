// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command statevault runs the state checkpoint and recovery service.
//
// Usage:
//
//	statevault serve
//	statevault snapshot list
//	statevault snapshot create -d "before upgrade"
//	statevault snapshot rollback <id>
//	statevault snapshot delete <id>
//	statevault state show
//	statevault state clear
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/statevault/pkg/logging"
	"github.com/AleutianAI/statevault/services/statevault/config"
)

var (
	cfgPath   string
	cfg       config.Config
	appLogger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "statevault",
	Short: "State checkpoint and recovery service",
	Long: "StateVault persists an application's state document to embedded " +
		"local storage, keeps a bounded history of named snapshots, and can " +
		"roll back to any of them manually or via an auto-rollback watchdog.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded

		appLogger, err = logging.New(logging.Config{
			Level:   logging.ParseLevel(cfg.Logging.Level),
			LogDir:  cfg.Logging.Dir,
			Service: "statevault",
		})
		if err != nil {
			return err
		}
		slog.SetDefault(appLogger.Logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if appLogger != nil {
			_ = appLogger.Close()
		}
	},
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.statevault/statevault.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(stateCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
