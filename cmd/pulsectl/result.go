package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var resultCmd = &cobra.Command{
	Use:   "result <test-id>",
	Short: "Fetch the result of a finished test",
	Long: `Fetch the retained measurements and the final result of a finished
test. Fetching the result consumes it on the device: a second fetch for
the same id reports no-such-test.`,
	Args: cobra.ExactArgs(1),
	RunE: runResult,
}

func init() {
	rootCmd.AddCommand(resultCmd)
}

func runResult(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid test id %q", args[0])
	}

	c, closeClient, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer closeClient()

	ctx := cmd.Context()
	testID := uint32(id)

	// Samples first; the result fetch frees them.
	records, err := c.AllMeasurements(ctx, testID)
	if err != nil {
		return err
	}

	result, err := c.TestResult(ctx, testID)
	if err != nil {
		return err
	}

	printResult(result, records)

	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the engine's current lifecycle state",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, closeClient, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer closeClient()

	snap, err := c.Status(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("status: %s\n", snap.Status)
	if snap.TestID != 0 {
		fmt.Printf("test:   %d (%s)\n", snap.TestID, snap.Type)
		fmt.Printf("samples: %d   elapsed: %v\n", snap.SampleCount, snap.Elapsed)
	}

	return nil
}
