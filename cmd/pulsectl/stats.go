package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show engine-wide pass/fail aggregates",
	RunE:  runStats,
}

var resetStatsCmd = &cobra.Command{
	Use:   "reset-stats",
	Short: "Clear the device's statistics counters",
	Long: `Clear the engine aggregates, queue counters, and link counters.
Sequence counters are not reset; command and test ids keep advancing.`,
	RunE: runResetStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(resetStatsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	c, closeClient, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer closeClient()

	stats, err := c.EngineStats(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("executed: %d\n", stats.TotalExecuted)
	fmt.Printf("passed:   %d\n", stats.TotalPassed)
	fmt.Printf("failed:   %d\n", stats.TotalFailed)
	fmt.Printf("success rate: %s\n", rate(stats.SuccessRateHundredths))

	return nil
}

func runResetStats(cmd *cobra.Command, args []string) error {
	c, closeClient, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer closeClient()

	if err := c.ResetStats(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("statistics reset")

	return nil
}
