package cmd

import (
	"fmt"
	"slices"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"restkit/pkg/core"
)

func newTimeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "time",
		Short: "Measure the offset between the local clock and the server clock",
		Long: `Fetch the server time repeatedly and print the estimated offset of each
sample. The first sample is preceded by a warm-up request that is discarded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTime(cmd, a)
		},
	}

	cmd.Flags().String("path", "/time", "server time endpoint")
	cmd.Flags().String("field", "serverTime", "dotted path of the millisecond timestamp in the response")
	cmd.Flags().Int("samples", 3, "number of measurements")
	cmd.Flags().Duration("interval", 0, "pause between measurements")
	return cmd
}

func runTime(cmd *cobra.Command, a *app) error {
	path, _ := cmd.Flags().GetString("path")
	field, _ := cmd.Flags().GetString("field")
	samples, _ := cmd.Flags().GetInt("samples")
	interval, _ := cmd.Flags().GetDuration("interval")
	if samples < 1 {
		return fmt.Errorf("--samples must be at least 1, got %d", samples)
	}

	client, err := a.newClient(path, field, func(cfg *core.Config) {
		cfg.WithTimeSync(true, time.Nanosecond)
	})
	if err != nil {
		return err
	}
	defer client.Close()

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "Offset", "Synced At", "Requests"})

	offsets := make([]time.Duration, 0, samples)
	for i := 0; i < samples; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case <-time.After(interval):
			}
		}

		if _, err := client.SyncTime(cmd.Context()); err != nil {
			return fmt.Errorf("sample %d: %w", i+1, err)
		}
		info := client.TimeSyncInfo()
		offsets = append(offsets, info.Offset)
		t.AppendRow(table.Row{
			i + 1,
			formatOffset(info.Offset),
			info.LastSync.Format("15:04:05.000"),
			client.TotalRequests(),
		})
	}

	t.AppendFooter(table.Row{"", "median " + formatOffset(median(offsets)), "", ""})
	fmt.Fprintln(cmd.OutOrStdout(), t.Render())
	return nil
}

func formatOffset(d time.Duration) string {
	if d > 0 {
		return "+" + d.Round(time.Millisecond).String()
	}
	return d.Round(time.Millisecond).String()
}

func median(values []time.Duration) time.Duration {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
