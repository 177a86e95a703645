package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Dicklesworthstone/tabled/internal/schema"
	"github.com/Dicklesworthstone/tabled/internal/value"
)

var flagTablesSchema string

func init() {
	tablesCmd.Flags().StringVarP(&flagTablesSchema, "schema", "s", "tabled.toml", "schema file (TOML)")
	rootCmd.AddCommand(tablesCmd)
}

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "Show the parsed schema",
	Long: `Parse the schema file and print every table with its id and typed
columns, exactly as the server would load it.`,
	RunE: runTables,
}

func runTables(cmd *cobra.Command, args []string) error {
	tables, err := schema.Load(flagTablesSchema)
	if err != nil {
		return err
	}
	fmt.Print(renderSchema(tables, term.IsTerminal(int(os.Stdout.Fd()))))
	return nil
}

func renderSchema(tables []schema.Table, color bool) string {
	titleStyle := lipgloss.NewStyle()
	dimStyle := lipgloss.NewStyle()
	if color {
		titleStyle = titleStyle.Foreground(lipgloss.Color("6")).Bold(true)
		dimStyle = dimStyle.Foreground(lipgloss.Color("8"))
	}

	var b strings.Builder
	for i, t := range tables {
		fmt.Fprintf(&b, "%s %s\n", titleStyle.Render(fmt.Sprintf("[%d]", i+1)), titleStyle.Render(t.Name))
		for j, col := range t.Columns {
			typ := col.Type.String()
			if col.Type == value.KindForeign {
				typ = fmt.Sprintf("foreign -> %s", tables[col.Ref-1].Name)
			}
			fmt.Fprintf(&b, "  %s %-16s %s\n", dimStyle.Render(fmt.Sprintf("%2d", j+1)), col.Name, typ)
		}
	}
	return b.String()
}
