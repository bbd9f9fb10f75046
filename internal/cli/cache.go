package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/acolyte-tracking/dashboard/internal/cache/redis"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the annotation cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every cached annotation so the next run asks the model again",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		if !rt.cfg.Redis.Enabled {
			return fmt.Errorf("annotation cache is disabled (redis.enabled is false)")
		}
		c := rt.cfg.Redis
		client, err := redis.NewClient(cmd.Context(), c.Host, c.Port, c.Password, c.DB, c.TTL)
		if err != nil {
			return err
		}
		defer client.Close()

		n, err := client.InvalidateAnnotations(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached annotations\n", n)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
