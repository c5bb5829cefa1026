package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/terraconstructs/gridgate/internal/services/provisioning"
)

var (
	waitIntervalFlag time.Duration
	waitAttemptsFlag int
)

var topologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Inspect topologies on the API upstream",
}

var topologyWaitCmd = &cobra.Command{
	Use:   "wait <topology-id>",
	Short: "Wait for a topology to finish provisioning",
	Long: `Polls the API upstream until the topology reports ready or failed, or the
attempt budget runs out. Exits non-zero unless the topology is ready.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := provisioning.NewClient(cfg.Upstreams.API, nil)
		if err != nil {
			return err
		}

		waiter := &provisioning.Waiter{
			Fetcher:     client,
			Interval:    waitIntervalFlag,
			MaxAttempts: waitAttemptsFlag,
			Logger:      logger.Named("provisioning"),
		}

		logger.Info("waiting for topology",
			zap.String("topology_id", args[0]),
			zap.Duration("interval", waitIntervalFlag),
			zap.Int("max_attempts", waitAttemptsFlag))

		status, err := waiter.Wait(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("topology %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Topology %s is %s\n", status.ID, status.State)
		return nil
	},
}

func init() {
	topologyWaitCmd.Flags().DurationVar(&waitIntervalFlag, "interval", provisioning.DefaultInterval, "Time between status checks")
	topologyWaitCmd.Flags().IntVar(&waitAttemptsFlag, "max-attempts", provisioning.DefaultMaxAttempts, "Maximum number of status checks")

	rootCmd.AddCommand(topologyCmd)
	topologyCmd.AddCommand(topologyWaitCmd)
}
