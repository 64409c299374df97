package main

import (
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the config file",
	Long:  `Load and resolve the config file, reporting any error without starting the daemon.`,
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfgPath := resolvedConfigPath()
	node, err := loadNode()
	if err != nil {
		return err
	}

	cmd.Printf("%s: ok\n", cfgPath)
	cmd.Printf("  originator:  %s\n", node.Originator)
	cmd.Printf("  domains:     %d\n", len(node.Domains))
	cmd.Printf("  interfaces:  %d\n", len(node.Interfaces))
	cmd.Printf("  lans:        %d\n", len(node.LANs))
	cmd.Printf("  layer2_config: %d interface(s)\n", len(node.StaticLayer2))

	return nil
}
