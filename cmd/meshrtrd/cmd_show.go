package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kuuji/meshrtr/internal/console"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Dump the current state export",
	Long:  `Query a running meshrtrd over its console socket and print one point-in-time JSON snapshot of NHDP, topology, L2IB, and the installed FIB route set.`,
	RunE:  runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	snap, err := console.FetchSnapshot(console.ResolveSocketPath())
	if err != nil {
		return fmt.Errorf("is meshrtrd running? %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}
