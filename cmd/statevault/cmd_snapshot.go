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
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

var snapshotDescription string

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage state snapshots",
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVault(func(ctx context.Context, v *vault) error {
			infos := v.snaps.ListSnapshots()
			if len(infos) == 0 {
				fmt.Println("no snapshots")
				return nil
			}
			for _, info := range infos {
				created := time.UnixMilli(info.Timestamp).Format(time.RFC3339)
				fmt.Printf("%s  %s  %s\n", info.ID, created, info.Description)
			}
			return nil
		})
	},
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Checkpoint the current state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVault(func(ctx context.Context, v *vault) error {
			id, created, err := v.snaps.CreateSnapshot(ctx, snapshotDescription)
			if err != nil {
				return err
			}
			if !created {
				fmt.Println("no current state to checkpoint")
				return nil
			}
			fmt.Println(id)
			return nil
		})
	},
}

var snapshotRollbackCmd = &cobra.Command{
	Use:   "rollback <id>",
	Short: "Restore a snapshot into the current state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVault(func(ctx context.Context, v *vault) error {
			if err := v.snaps.Rollback(ctx, args[0]); err != nil {
				return err
			}
			fmt.Println("restored", args[0])
			return nil
		})
	},
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVault(func(ctx context.Context, v *vault) error {
			if !v.snaps.DeleteSnapshot(ctx, args[0]) {
				fmt.Println("not found:", args[0])
				return nil
			}
			fmt.Println("deleted", args[0])
			return nil
		})
	},
}

func init() {
	snapshotCreateCmd.Flags().StringVarP(&snapshotDescription, "description", "d", "", "snapshot description")

	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotCreateCmd)
	snapshotCmd.AddCommand(snapshotRollbackCmd)
	snapshotCmd.AddCommand(snapshotDeleteCmd)
}

// withVault opens the vault for a one-shot CLI operation and closes it
// afterwards.
func withVault(fn func(ctx context.Context, v *vault) error) error {
	v, err := openVault(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer v.close()
	return fn(context.Background(), v)
}
