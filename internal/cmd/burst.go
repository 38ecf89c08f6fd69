package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"restkit/internal/ratelimit"
	"restkit/pkg/core"
)

func newBurstCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "burst",
		Short: "Run a burst of requests through a local rate limiter",
		Long: `Push --requests admissions through a token bucket of --rate per --period
without contacting any server, and report how many were admitted, rejected
and how long they waited.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBurst(cmd, a)
		},
	}

	cmd.Flags().Int("rate", 10, "requests allowed per period")
	cmd.Flags().Duration("period", time.Second, "rate limit period")
	cmd.Flags().Int("requests", 20, "number of requests in the burst")
	cmd.Flags().Int("concurrency", 4, "concurrent callers")
	cmd.Flags().String("overflow", core.OverflowWait.String(), "overflow behavior: WAIT, FAIL or FAIL_WITH_LOGGING")
	cmd.Flags().Duration("deadline", 0, "overall deadline for the burst")
	return cmd
}

func runBurst(cmd *cobra.Command, a *app) error {
	rate, _ := cmd.Flags().GetInt("rate")
	period, _ := cmd.Flags().GetDuration("period")
	requests, _ := cmd.Flags().GetInt("requests")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	overflowFlag, _ := cmd.Flags().GetString("overflow")
	deadline, _ := cmd.Flags().GetDuration("deadline")

	if rate < 1 || period <= 0 {
		return fmt.Errorf("invalid rate %d per %s", rate, period)
	}
	overflow, err := core.ParseOverflowBehavior(overflowFlag)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if deadline > 0 {
		var cancel func()
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	limiter := ratelimit.New(rate, period, ratelimit.WithLogger(a.logger))

	var rejected atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))

	start := time.Now()
	for i := 0; i < requests; i++ {
		g.Go(func() error {
			_, err := limiter.Admit(gctx, core.AdmitRequest{
				Endpoint: "/burst",
				Method:   http.MethodGet,
				Weight:   1,
				Overflow: overflow,
			})
			if err != nil {
				if core.IsRateLimitError(err) {
					rejected.Add(1)
					return nil
				}
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	m := limiter.Metrics()
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Requests", "Admitted", "Rejected", "Total Wait", "Elapsed"})
	t.AppendRow(table.Row{
		m.TotalRequests,
		m.AllowedRequests,
		rejected.Load(),
		m.TotalWaited.Round(time.Millisecond),
		elapsed.Round(time.Millisecond),
	})
	t.AppendFooter(table.Row{"", "", "", "", fmt.Sprintf("%d/%s %s", rate, period, overflow)})
	fmt.Fprintln(cmd.OutOrStdout(), t.Render())
	return nil
}
