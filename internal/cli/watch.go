package cli

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/tabled/internal/client"
	"github.com/Dicklesworthstone/tabled/internal/schema"
	"github.com/Dicklesworthstone/tabled/internal/tui/monitor"
)

var (
	flagWatchAddr     string
	flagWatchSchema   string
	flagWatchInterval time.Duration
)

func init() {
	watchCmd.Flags().StringVarP(&flagWatchAddr, "addr", "a", "127.0.0.1:7880", "server address")
	watchCmd.Flags().StringVarP(&flagWatchSchema, "schema", "s", "tabled.toml", "schema file (TOML)")
	watchCmd.Flags().DurationVar(&flagWatchInterval, "interval", 2*time.Second, "polling interval")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live row counts per table",
	Long: `Open a terminal view of per-table row counts, refreshed by polling
the server with AL scans. The schema file must match the one the server
was started with.`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	tables, err := schema.Load(flagWatchSchema)
	if err != nil {
		return err
	}

	c, err := client.Dial(flagWatchAddr)
	if err != nil {
		return err
	}
	defer c.Close()

	model := monitor.New(flagWatchAddr, flagWatchInterval, tables, c)
	_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()
	return err
}
