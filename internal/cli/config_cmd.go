// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/deepchat/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the configuration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the configuration (API key masked)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Fprint(a.out, a.store.Config().String())
				return nil
			},
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print one value, e.g. api.chat_model",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg := a.store.Config()
				v, err := cfg.Get(args[0])
				if err != nil {
					return &UsageError{Message: err.Error()}
				}
				if s, ok := v.(string); ok && s != "" && s == cfg.API.Key {
					v = cfg.MaskedKey()
				}
				fmt.Fprintln(a.out, v)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Change one value and save the file",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.store.Set(args[0], args[1]); err != nil {
					return err
				}
				a.logger.Info("configuration updated", "key", args[0])
				fmt.Fprintf(a.out, "%s %s\n", SuccessStyle.Render("Saved:"), args[0])
				if env, ok := config.EnvOverride(args[0]); ok {
					fmt.Fprintf(a.out, "%s %s is set and takes precedence over the file\n",
						WarningStyle.Render("Note:"), env)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "keys",
			Short: "List every settable key",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				for _, k := range config.GetAllKeys() {
					fmt.Fprintln(a.out, k)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the configuration file path",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Fprintln(a.out, a.store.Path())
				return nil
			},
		},
	)
	return cmd
}
