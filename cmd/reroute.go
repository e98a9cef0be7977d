package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/claims-router/internal/model"
	"github.com/sells-group/claims-router/internal/routing"
	"github.com/sells-group/claims-router/internal/store"
)

var (
	rerouteStatus        string
	rerouteRoutingStatus string
	rerouteLimit         int
	rerouteConcurrency   int
)

var rerouteCmd = &cobra.Command{
	Use:   "reroute",
	Short: "Re-route stored claims with the current controls",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "offline")
		if err != nil {
			return err
		}
		defer env.Close()

		claims, err := env.Store.ListClaims(ctx, store.ClaimFilter{
			Status:        model.ClaimStatus(rerouteStatus),
			RoutingStatus: rerouteRoutingStatus,
			Limit:         rerouteLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list claims")
		}

		concurrency := rerouteConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Reroute.MaxConcurrent
		}
		sum, err := rerouteBatch(ctx, claims, concurrency, env.Pipeline.Reroute)
		if err != nil {
			return err
		}
		sum.print(cmd.OutOrStdout())
		return nil
	},
}

// rerouteFunc is the callback signature for re-routing one claim.
type rerouteFunc func(ctx context.Context, claimID string) (*model.Claim, routing.Result, error)

type rerouteSummary struct {
	Succeeded int64
	Failed    int64
	ByStatus  map[routing.Status]int
}

func (s rerouteSummary) print(w io.Writer) {
	fmt.Fprintf(w, "rerouted %d claims, %d failed\n", s.Succeeded, s.Failed)
	statuses := make([]string, 0, len(s.ByStatus))
	for st := range s.ByStatus {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)
	for _, st := range statuses {
		fmt.Fprintf(w, "  %-20s %d\n", st, s.ByStatus[routing.Status(st)])
	}
}

// rerouteBatch re-routes claims concurrently. A failed claim is logged and
// counted; it does not stop the batch.
func rerouteBatch(ctx context.Context, claims []model.Claim, concurrency int, reroute rerouteFunc) (rerouteSummary, error) {
	sum := rerouteSummary{ByStatus: make(map[routing.Status]int)}
	if len(claims) == 0 {
		zap.L().Info("no claims to reroute")
		return sum, nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	zap.L().Info("rerouting claims",
		zap.Int("claims", len(claims)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var (
		succeeded, failed atomic.Int64
		mu                sync.Mutex
	)
	for _, c := range claims {
		g.Go(func() error {
			log := zap.L().With(zap.String("claim_id", c.ID))
			_, res, err := reroute(gctx, c.ID)
			if err != nil {
				failed.Add(1)
				log.Error("reroute failed", zap.Error(err))
				return nil
			}
			succeeded.Add(1)
			mu.Lock()
			sum.ByStatus[res.Status]++
			mu.Unlock()
			log.Debug("reroute complete", zap.String("status", string(res.Status)))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return sum, eris.Wrap(err, "reroute batch")
	}
	sum.Succeeded, sum.Failed = succeeded.Load(), failed.Load()
	zap.L().Info("reroute complete",
		zap.Int64("succeeded", sum.Succeeded),
		zap.Int64("failed", sum.Failed),
	)
	return sum, nil
}

func init() {
	rerouteCmd.Flags().StringVar(&rerouteStatus, "status", string(model.ClaimStatusReview), "claim status to re-route (empty for any)")
	rerouteCmd.Flags().StringVar(&rerouteRoutingStatus, "routing-status", "", "only claims with this routing status")
	rerouteCmd.Flags().IntVar(&rerouteLimit, "limit", 500, "maximum claims to re-route")
	rerouteCmd.Flags().IntVar(&rerouteConcurrency, "concurrency", 0, "parallel re-routes (default from config)")
	rootCmd.AddCommand(rerouteCmd)
}
