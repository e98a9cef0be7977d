package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/claims-router/internal/routing"
)

var controlsActor string

var controlsCmd = &cobra.Command{
	Use:   "controls",
	Short: "Show and change the routing controls",
}

func printControls(cmd *cobra.Command, c routing.Controls) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

var controlsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the controls in effect",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "offline")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.Controls.Current(cmd.Context())
		if err != nil {
			return err
		}
		return printControls(cmd, c)
	},
}

var controlsSetCmd = &cobra.Command{
	Use:   "set <key=value>...",
	Short: "Set one or more controls",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		values := make(map[string]any, len(args))
		for _, a := range args {
			key, raw, ok := strings.Cut(a, "=")
			if !ok {
				return eris.Errorf("control %q: want key=value", a)
			}
			values[strings.TrimSpace(key)] = parseControlValue(raw)
		}

		env, err := initEnv(cmd.Context(), "offline")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.Controls.UpdateMany(cmd.Context(), values, controlsActor)
		if err != nil {
			return err
		}
		return printControls(cmd, c)
	},
}

var controlsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop stored overrides and return to the configured defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "offline")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.Controls.Reset(cmd.Context(), controlsActor)
		if err != nil {
			return err
		}
		return printControls(cmd, c)
	},
}

var controlsImportCmd = &cobra.Command{
	Use:   "import <controls.yaml>",
	Short: "Apply controls from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "open controls file")
		}
		defer f.Close() //nolint:errcheck

		env, err := initEnv(cmd.Context(), "offline")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.Controls.Import(cmd.Context(), f, controlsActor)
		if err != nil {
			return err
		}
		return printControls(cmd, c)
	},
}

var controlsExportCmd = &cobra.Command{
	Use:   "export [controls.yaml]",
	Short: "Write the controls in effect as YAML (stdout by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "offline")
		if err != nil {
			return err
		}
		defer env.Close()

		w := cmd.OutOrStdout()
		if len(args) == 1 {
			f, err := os.Create(args[0])
			if err != nil {
				return eris.Wrap(err, "create controls file")
			}
			defer f.Close() //nolint:errcheck
			w = f
		}
		return env.Controls.Export(cmd.Context(), w)
	},
}

func init() {
	controlsCmd.PersistentFlags().StringVar(&controlsActor, "actor", "cli", "actor id recorded in the audit log")
	controlsCmd.AddCommand(controlsShowCmd, controlsSetCmd, controlsResetCmd, controlsImportCmd, controlsExportCmd)
	rootCmd.AddCommand(controlsCmd)
}
