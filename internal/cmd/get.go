package cmd

import (
	"fmt"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"restkit/pkg/core"
	"restkit/pkg/rest"
)

func newGetCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Send an unsigned GET request and print the decoded response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, a, args[0])
		},
	}

	cmd.Flags().StringToString("query", nil, "query parameters as key=value")
	cmd.Flags().Bool("raw", false, "print the payload exactly as received")
	cmd.Flags().Int("weight", 1, "admission weight of the request")
	return cmd
}

func runGet(cmd *cobra.Command, a *app, path string) error {
	query, _ := cmd.Flags().GetStringToString("query")
	raw, _ := cmd.Flags().GetBool("raw")
	weight, _ := cmd.Flags().GetInt("weight")

	client, err := a.newClient("/time", "serverTime", func(cfg *core.Config) {
		cfg.WithOutputOriginalData(raw)
	})
	if err != nil {
		return err
	}
	defer client.Close()

	req := core.NewRequest(http.MethodGet, path).SetWeight(weight)
	for k, v := range query {
		req.SetQuery(k, v)
	}

	res, err := rest.Send[any](cmd.Context(), client, req)
	if err != nil {
		return err
	}
	a.logger.Info().
		Int64("request_id", res.CorrelationID).
		Dur("response_time", res.ResponseTime).
		Msg("response received")
	if err := res.AsError(); err != nil {
		return err
	}

	if raw {
		fmt.Fprintln(cmd.OutOrStdout(), res.OriginalData)
		return nil
	}
	out, err := sonic.ConfigStd.MarshalIndent(res.Data, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
