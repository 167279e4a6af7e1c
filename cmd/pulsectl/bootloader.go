package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var bootloaderYes bool

var bootloaderCmd = &cobra.Command{
	Use:   "bootloader",
	Short: "Reboot the device into its bootloader",
	Long: `Request bootloader entry. The device acknowledges, finishes
transmitting its queued responses, and stops answering until it is
reflashed or power-cycled. This is one-way; pass --yes to skip the
confirmation prompt.`,
	RunE: runBootloader,
}

func init() {
	rootCmd.AddCommand(bootloaderCmd)
	bootloaderCmd.Flags().BoolVarP(&bootloaderYes, "yes", "y", false, "Skip the confirmation prompt")
}

func runBootloader(cmd *cobra.Command, args []string) error {
	if !bootloaderYes {
		fmt.Printf("Reboot %s into the bootloader? The device will stop answering. [y/N] ", portName)
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return err
		}
		if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
			fmt.Println("aborted")

			return nil
		}
	}

	c, closeClient, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer closeClient()

	if err := c.EnterBootloader(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("bootloader entry acknowledged; the device will stop answering")

	return nil
}
