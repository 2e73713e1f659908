// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/deepchat/internal/export"
)

func newExportCmd(a *app) *cobra.Command {
	var opts struct {
		format    string
		outputDir string
		stdout    bool
		noMeta    bool
		reasoning bool
	}

	cmd := &cobra.Command{
		Use:   "export <chat-id>",
		Short: "Export a chat to Markdown or JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.openEngine()
			if err != nil {
				return err
			}
			chat, err := a.resolveChat(cmd.Context(), engine, args[0])
			if err != nil {
				return err
			}

			exportOpts := export.DefaultOptions()
			exportOpts.OutputDir = opts.outputDir
			exportOpts.IncludeMetadata = !opts.noMeta
			exportOpts.IncludeReasoning = opts.reasoning
			exportOpts.Now = a.now

			exporter, err := export.ForFormat(opts.format, exportOpts)
			if err != nil {
				return &UsageError{Message: err.Error()}
			}

			if opts.stdout {
				data, err := exporter.Export(chat)
				if err != nil {
					return err
				}
				_, err = a.out.Write(data)
				return err
			}

			path, err := export.ToFile(chat, exporter, exportOpts)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s %s\n", SuccessStyle.Render("Exported:"), path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", "markdown", "output format (markdown, json)")
	cmd.Flags().StringVarP(&opts.outputDir, "output", "o", ".", "output directory")
	cmd.Flags().BoolVar(&opts.stdout, "stdout", false, "write to stdout instead of a file")
	cmd.Flags().BoolVar(&opts.noMeta, "no-metadata", false, "omit front matter and the session summary")
	cmd.Flags().BoolVar(&opts.reasoning, "reasoning", true, "include reasoning (markdown)")
	return cmd
}
