package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var safetyCmd = &cobra.Command{
	Use:   "safety",
	Short: "Query the battery-safety status",
	Long: `Query the device's safety predicate and raw flag byte. While the
device reports unsafe, test starts are refused.`,
	RunE: runSafety,
}

func init() {
	rootCmd.AddCommand(safetyCmd)
}

func runSafety(cmd *cobra.Command, args []string) error {
	c, closeClient, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer closeClient()

	safe, flags, err := c.SafetyStatus(cmd.Context())
	if err != nil {
		return err
	}

	if safe {
		fmt.Printf("safe (flags 0x%02X)\n", flags)
	} else {
		fmt.Printf("UNSAFE (flags 0x%02X) - test starts are locked out\n", flags)
	}

	return nil
}
