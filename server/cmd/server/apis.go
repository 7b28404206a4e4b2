package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/infradash/infradash/server/internal/registry"
)

func newAPIsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "apis",
		Short: "Print the parsed API descriptors as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(registry.New(cfg.Server.APIConfigs).All())
		},
	}
}
