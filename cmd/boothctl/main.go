// Command boothctl checks experience definitions offline and prints kiosk
// QR codes.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	"github.com/playperu/snapbooth/internal/experience"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "boothctl",
		Short:         "Tools for snapbooth experience authors",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newValidateCmd(), newSchemaCmd(), newQRCmd())
	return root
}

// --- validate ---

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [experience.yaml]",
		Short: "Validate an experience definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0])
		},
	}
}

func runValidate(stdout, stderr io.Writer, path string) error {
	exp, problems := experience.ValidateFile(path)

	var errs, warnings []*experience.ValidationError
	for _, p := range problems {
		if p.Severity == "warning" {
			warnings = append(warnings, p)
		} else {
			errs = append(errs, p)
		}
	}
	for _, w := range warnings {
		fmt.Fprintf(stderr, "  warning [%s] %s\n", w.Phase, w.Message)
		if w.Path != "" {
			fmt.Fprintf(stderr, "    at: %s\n", w.Path)
		}
	}
	if len(errs) > 0 {
		fmt.Fprintf(stderr, "Validation failed: %d error(s)\n\n", len(errs))
		for i, e := range errs {
			fmt.Fprintf(stderr, "  %d. [%s] %s\n", i+1, e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(stderr, "     at: %s\n", e.Path)
			}
		}
		return fmt.Errorf("validation failed with %d error(s)", len(errs))
	}

	fmt.Fprintf(stdout, "%s is valid (%d steps)\n", exp.Name, len(exp.Steps))
	return nil
}

// --- schema ---

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for experience definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := experience.GenerateJSONSchema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}

// --- qr ---

func newQRCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "qr [url]",
		Short: "Print a QR code guests can scan to open a booth",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := strings.TrimSpace(args[0])
			if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
				return fmt.Errorf("%q is not an http(s) url", url)
			}
			out := cmd.OutOrStdout()
			if full {
				qrterminal.Generate(url, qrterminal.M, out)
			} else {
				qrterminal.GenerateHalfBlock(url, qrterminal.M, out)
			}
			fmt.Fprintln(out, url)
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "use full blocks instead of half blocks")
	return cmd
}
