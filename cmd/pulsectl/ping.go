package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var pingCount int

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Verify the device link with echo frames",
	Long: `Send ping commands and check the echoed payloads.

Each ping carries a distinct payload; the device must echo it back
unchanged. A failed echo or a reply timeout indicates a broken link or
an unresponsive device.`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	c, closeClient, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer closeClient()

	for i := 1; i <= pingCount; i++ {
		payload := []byte(fmt.Sprintf("pulsectl-%d", i))
		start := time.Now()

		if err := c.Ping(cmd.Context(), payload); err != nil {
			return fmt.Errorf("ping %d/%d: %w", i, pingCount, err)
		}
		fmt.Printf("ping %d/%d: ok (%v)\n", i, pingCount, time.Since(start).Round(time.Microsecond))
	}

	return nil
}
