package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danmuck/mllp/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "manage mllpctl config files",
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigValidateCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		kind  string
		out   string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "write a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := out
			if target == "" {
				target = kind + ".toml"
			}
			if err := config.WriteTemplate(target, kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config to %s\n", kind, target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "server", "config kind: server|client")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path (defaults to <kind>.toml)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>",
		Short: "load and validate a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "validated %s\n", args[0])
			return nil
		},
	}
}
