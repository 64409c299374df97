package main

import (
	"fmt"

	"github.com/kuuji/meshrtr/internal/config"
)

// resolvedConfigPath returns the config file path, using the global flag
// if set, otherwise the default system path.
func resolvedConfigPath() string {
	if globalConfigPath != "" {
		return globalConfigPath
	}
	return config.DefaultConfigPath
}

// loadNode loads and resolves the config file at the resolved path into a
// ready-to-wire config.Node.
func loadNode() (config.Node, error) {
	cfgPath := resolvedConfigPath()
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return config.Node{}, fmt.Errorf("loading config from %s: %w", cfgPath, err)
	}
	node, err := cfg.Build()
	if err != nil {
		return config.Node{}, fmt.Errorf("resolving config from %s: %w", cfgPath, err)
	}
	return node, nil
}
