package main

import (
	"encoding/json"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/claims-router/internal/model"
	"github.com/sells-group/claims-router/internal/routing"
)

var (
	routeControls []string
	routeSample   float64
)

var routeCmd = &cobra.Command{
	Use:   "route <claim.json|->",
	Short: "Route a claim snapshot offline with controls from config and flags",
	Long: "Reads a claim (or {\"claim\": ..., \"estimate\": ...}) as JSON and prints the routing decision. " +
		"Nothing is stored and no audit events are written.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Routing.Validate(); err != nil {
			return eris.Wrap(err, "config routing")
		}
		controls, err := applyControlFlags(cfg.Routing, routeControls)
		if err != nil {
			return err
		}

		in := cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return eris.Wrap(err, "open claim snapshot")
			}
			defer f.Close() //nolint:errcheck
			in = f
		}

		var sampler routing.Sampler
		if routeSample >= 0 {
			sampler = routing.FixedSampler(routeSample)
		} else {
			sampler = routing.NewRandSampler()
		}
		res, err := routeSnapshot(in, controls, sampler)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

// snapshot is the route command's input. A bare claim is accepted too.
type snapshot struct {
	Claim    *model.Claim    `json:"claim"`
	Estimate *model.Estimate `json:"estimate,omitempty"`
}

func routeSnapshot(r io.Reader, controls routing.Controls, sampler routing.Sampler) (routing.Result, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return routing.Result{}, eris.Wrap(err, "read claim snapshot")
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return routing.Result{}, eris.Wrap(err, "decode claim snapshot")
	}
	if snap.Claim == nil {
		snap.Claim = &model.Claim{}
		if err := json.Unmarshal(raw, snap.Claim); err != nil {
			return routing.Result{}, eris.Wrap(err, "decode claim")
		}
	}
	return routing.Route(routing.InputFromClaim(snap.Claim, snap.Estimate, controls), sampler), nil
}

// applyControlFlags overlays key=value pairs on c.
func applyControlFlags(c routing.Controls, pairs []string) (routing.Controls, error) {
	for _, p := range pairs {
		key, raw, ok := strings.Cut(p, "=")
		if !ok {
			return c, eris.Errorf("control %q: want key=value", p)
		}
		var err error
		if c, err = c.With(strings.TrimSpace(key), parseControlValue(raw)); err != nil {
			return c, err
		}
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func parseControlValue(s string) any {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func init() {
	routeCmd.Flags().StringArrayVar(&routeControls, "control", nil, "override a control, e.g. --control payout_cap_auto=2000")
	routeCmd.Flags().Float64Var(&routeSample, "sample", -1, "fixed QA sample draw in [0,1); negative draws randomly")
	rootCmd.AddCommand(routeCmd)
}
