package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Drain the device's diagnostic log",
	Long: `Fetch pending diagnostic log entries until the device reports its
log drained. Entries are removed from the device as they are fetched.`,
	RunE: runLog,
}

func init() {
	rootCmd.AddCommand(logCmd)
}

func runLog(cmd *cobra.Command, args []string) error {
	c, closeClient, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer closeClient()

	total := 0
	for {
		lines, err := c.DrainLog(cmd.Context())
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			break
		}
		for _, line := range lines {
			fmt.Println(line)
		}
		total += len(lines)
	}

	if total == 0 {
		fmt.Println("(log empty)")
	}

	return nil
}
