package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/JonMunkholm/QueryGenie/internal/genie"
	"github.com/JonMunkholm/QueryGenie/internal/llm"
	"github.com/JonMunkholm/QueryGenie/internal/schema"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	genStyle      string
	genPrompt     string
	genSchemaFile string
	extSchemaFile string
)

var (
	titleColor   = color.New(color.FgCyan, color.Bold)
	queryColor   = color.New(color.FgGreen)
	successColor = color.New(color.FgGreen)
	hintColor    = color.New(color.FgYellow)
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a query from the stored or given schema",
	Long: `Generate a SQL statement or a Rails Active Record expression.

The schema is read from --schema-file when set, otherwise from the store.

Examples:
  querygenie generate --prompt "list all organizations"
  querygenie generate --style rails --prompt "accounts created this week" --schema-file db/structure.sql
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		style, err := llm.ParseStyle(genStyle)
		if err != nil {
			return err
		}

		schemaText, err := readSchemaFile(genSchemaFile)
		if err != nil {
			return err
		}

		svc, store, err := newService()
		if err != nil {
			return err
		}
		defer store.Close()

		res, err := svc.Generate(cmd.Context(), genie.Request{
			Style:  style,
			Prompt: genPrompt,
			Schema: schemaText,
		})
		if err != nil {
			return errors.New(genie.ErrorMessage(err))
		}

		out := cmd.OutOrStdout()
		titleColor.Fprintln(out, style.Title())
		queryColor.Fprintln(out, res.Query)
		return nil
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Print the schema summary sent to the model",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readSchemaFile(extSchemaFile)
		if err != nil {
			return err
		}

		if text == "" {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			svc := genie.NewServiceWithFactory(store, nil, "")
			if text, err = svc.Schema(cmd.Context()); err != nil {
				return err
			}
		}

		fmt.Fprintln(cmd.OutOrStdout(), schema.Extract(text).Summary)
		return nil
	},
}

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the stored API key",
}

var keySetCmd = &cobra.Command{
	Use:   "set KEY",
	Short: "Store the API key",
	Args:  cobra.ExactArgs(1),
	RunE: withSettings(func(ctx context.Context, cmd *cobra.Command, svc *genie.Service, args []string) error {
		if err := svc.SetAPIKey(ctx, args[0]); err != nil {
			return err
		}
		successColor.Fprintln(cmd.OutOrStdout(), "✓ API key saved", genie.MaskKey(args[0]))
		return nil
	}),
}

var keyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the masked API key",
	Args:  cobra.NoArgs,
	RunE: withSettings(func(ctx context.Context, cmd *cobra.Command, svc *genie.Service, args []string) error {
		key, err := svc.APIKey(ctx)
		if err != nil {
			return err
		}
		if key == "" {
			hintColor.Fprintln(cmd.OutOrStdout(), "No API key saved.")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), genie.MaskKey(key))
		return nil
	}),
}

var keyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored API key",
	Args:  cobra.NoArgs,
	RunE: withSettings(func(ctx context.Context, cmd *cobra.Command, svc *genie.Service, args []string) error {
		if err := svc.ClearAPIKey(ctx); err != nil {
			return err
		}
		successColor.Fprintln(cmd.OutOrStdout(), "✓ API key removed")
		return nil
	}),
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Manage the stored schema text",
}

var schemaImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Replace the stored schema with the contents of FILE",
	Args:  cobra.ExactArgs(1),
	RunE: withSettings(func(ctx context.Context, cmd *cobra.Command, svc *genie.Service, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open schema file: %w", err)
		}
		defer f.Close()

		text, err := svc.ImportSchema(ctx, f)
		if err != nil {
			return err
		}
		res := schema.Extract(text)
		successColor.Fprintf(cmd.OutOrStdout(), "✓ Imported %s (%d tables)\n", args[0], len(res.TableNames))
		return nil
	}),
}

var schemaShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored schema text",
	Args:  cobra.NoArgs,
	RunE: withSettings(func(ctx context.Context, cmd *cobra.Command, svc *genie.Service, args []string) error {
		text, err := svc.Schema(ctx)
		if err != nil {
			return err
		}
		if text == "" {
			hintColor.Fprintln(cmd.OutOrStdout(), "No schema saved.")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	}),
}

var schemaClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored schema text",
	Args:  cobra.NoArgs,
	RunE: withSettings(func(ctx context.Context, cmd *cobra.Command, svc *genie.Service, args []string) error {
		if err := svc.ClearSchema(ctx); err != nil {
			return err
		}
		successColor.Fprintln(cmd.OutOrStdout(), "✓ Schema removed")
		return nil
	}),
}

func init() {
	generateCmd.Flags().StringVarP(&genStyle, "style", "s", string(llm.StyleSQL), "Output style: sql or rails")
	generateCmd.Flags().StringVarP(&genPrompt, "prompt", "p", "", "What the query should do")
	generateCmd.Flags().StringVarP(&genSchemaFile, "schema-file", "f", "", "Schema file to use instead of the stored schema")

	extractCmd.Flags().StringVarP(&extSchemaFile, "schema-file", "f", "", "Schema file to use instead of the stored schema")

	keyCmd.AddCommand(keySetCmd, keyShowCmd, keyClearCmd)
	schemaCmd.AddCommand(schemaImportCmd, schemaShowCmd, schemaClearCmd)
}

// withSettings runs fn against a service bound to the configured store.
// Settings commands never call a provider.
func withSettings(fn func(ctx context.Context, cmd *cobra.Command, svc *genie.Service, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), storeTimeout)
		defer cancel()

		return fn(ctx, cmd, genie.NewServiceWithFactory(store, nil, ""), args)
	}
}

func readSchemaFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read schema file: %w", err)
	}
	return string(data), nil
}
