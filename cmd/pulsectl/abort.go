package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var abortCmd = &cobra.Command{
	Use:   "abort",
	Short: "Force-terminate the running test",
	Long: `Abort the running test. The partial result stays on the device
until it is fetched with the result command or overwritten by the next
test start.`,
	RunE: runAbort,
}

func init() {
	rootCmd.AddCommand(abortCmd)
}

func runAbort(cmd *cobra.Command, args []string) error {
	c, closeClient, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer closeClient()

	if err := c.Abort(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("test aborted")

	return nil
}
