// Pulsectl is a host-side CLI for pulse devices speaking the 64-byte
// framed link: start and monitor self-tests, fetch results and raw
// measurements, and query device diagnostics over a serial port.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulsefw/pulselink/host"
	"github.com/pulsefw/pulselink/transport/serialport"
)

var (
	portName     string
	baudRate     int
	replyTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "pulsectl",
	Short: "Pulse device self-test controller",
	Long: `Pulsectl - control and monitor self-tests on a pulse device.

The device speaks a fixed 64-byte framed protocol over UART. Every
subcommand opens the port given by --port, issues its commands, and
prints the decoded responses.

Example:
  pulsectl --port /dev/ttyACM0 ping
  pulsectl --port /dev/ttyACM0 run-test timing --duration 2s --tolerance 1.0`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate")
	rootCmd.PersistentFlags().DurationVar(&replyTimeout, "timeout", 2*time.Second, "Per-command reply timeout")
}

// openClient connects to the device named by the persistent flags. The
// returned closer shuts down both the client and the port.
func openClient(cmd *cobra.Command) (*host.Client, func(), error) {
	if portName == "" {
		return nil, nil, fmt.Errorf("--port is required")
	}

	tp, err := serialport.Open(portName, baudRate)
	if err != nil {
		return nil, nil, err
	}

	c, err := host.NewClient(cmd.Context(), tp, host.WithReplyTimeout(replyTimeout))
	if err != nil {
		tp.Close()

		return nil, nil, err
	}

	return c, func() {
		c.Close()
		tp.Close()
	}, nil
}

// rate formats a hundredths-of-a-percent value for display.
func rate(hundredths uint16) string {
	return fmt.Sprintf("%d.%02d%%", hundredths/100, hundredths%100)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
