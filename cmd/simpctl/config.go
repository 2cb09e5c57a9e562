package main

import (
	"fmt"

	"github.com/danmuck/simp/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write and check simpctl config files",
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigValidateCmd())
	return cmd
}

func defaultConfigPath(kind config.Kind) string {
	return fmt.Sprintf("simp-%s.toml", kind)
}

func newConfigInitCmd() *cobra.Command {
	var (
		kind   string
		output string
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented config template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := config.ParseKind(kind)
			if err != nil {
				return err
			}
			target := output
			if target == "" {
				target = defaultConfigPath(k)
			}
			if err := config.WriteTemplate(target, k, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config template to %s\n", k, target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", string(config.KindServer), "config kind: server|client")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default simp-<kind>.toml)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	var (
		kind  string
		input string
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := config.ParseKind(kind)
			if err != nil {
				return err
			}
			path := input
			if path == "" {
				path = defaultConfigPath(k)
			}
			cfg, err := config.Load(path, k)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "validated %s config at %s (user=%s)\n", k, path, cfg.User)
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", string(config.KindServer), "config kind: server|client")
	cmd.Flags().StringVarP(&input, "input", "i", "", "config path (default simp-<kind>.toml)")
	return cmd
}
