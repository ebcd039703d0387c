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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect or clear the current state document",
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current state document as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVault(func(ctx context.Context, v *vault) error {
			doc, ok := v.store.Load(ctx)
			if !ok {
				fmt.Println("no state")
				return nil
			}
			out, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		})
	},
}

var stateClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the current state document",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVault(func(ctx context.Context, v *vault) error {
			if err := v.store.Clear(ctx); err != nil {
				return err
			}
			fmt.Println("cleared")
			return nil
		})
	},
}

func init() {
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateClearCmd)
}
