package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <book-id>",
		Short: "Show a book's progress and preview links",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}
			view, err := deps.BookService().Status(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			return writeJSON(cmd, view)
		},
	}
}

func newSetProviderKeyCommand(ctx *commandContext) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "set-provider-key",
		Short: "Store the OpenRouter API key used when OPENROUTER_API_KEY is unset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key = strings.TrimSpace(key)
			if key == "" {
				key = strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY"))
			}
			if key == "" {
				return errors.New("an api key is required via --key or OPENROUTER_API_KEY")
			}
			deps, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}
			if err := deps.Credentials.SetOpenRouterAPIKey(cmd.Context(), key); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OpenRouter key stored")
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "OpenRouter API key")
	return cmd
}

func newExportCommand(ctx *commandContext) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <book-id>",
		Short: "Write a zip of a book's photo, generated images, and story text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookID := strings.TrimSpace(args[0])
			if out == "" {
				out = bookID + ".zip"
			}
			deps, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := deps.BookService().Export(cmd.Context(), bookID, f); err != nil {
				_ = f.Close()
				_ = os.Remove(out)
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output path (defaults to <book-id>.zip)")
	return cmd
}
