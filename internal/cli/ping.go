package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/tabled/internal/client"
)

var flagPingAddr string

func init() {
	pingCmd.Flags().StringVarP(&flagPingAddr, "addr", "a", "127.0.0.1:7880", "server address")
	rootCmd.AddCommand(pingCmd)
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that a server is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.Dial(flagPingAddr)
		if err != nil {
			return err
		}
		defer c.Close()

		rtt, err := c.Ping()
		if err != nil {
			return err
		}
		fmt.Printf("%s: ok (%s)\n", flagPingAddr, rtt)
		return nil
	},
}
