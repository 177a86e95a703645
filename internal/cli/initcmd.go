package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/tabled/internal/config"
)

var (
	flagInitDir   string
	flagInitForce bool
)

func init() {
	initCmd.Flags().StringVarP(&flagInitDir, "dir", "d", ".", "directory to initialize")
	initCmd.Flags().BoolVarP(&flagInitForce, "force", "f", false, "overwrite existing files")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter schema and config",
	Long: `Create tabled.toml (a two-table example schema) and
tabled.config.toml (server configuration) in the target directory.`,
	RunE: runInit,
}

// starterSchema is a minimal schema with text, integer, float and
// foreign columns; it declares no null column.
const starterSchema = `# tabled schema
#
# Table ids are assigned in declaration order, starting at 1.

[[table]]
name = "account"

  [[table.column]]
  name = "owner"
  type = "text"

  [[table.column]]
  name = "balance"
  type = "integer"

  [[table.column]]
  name = "rate"
  type = "float"

[[table]]
name = "transfer"

  [[table.column]]
  name = "src"
  type = "foreign"
  ref = "account"

  [[table.column]]
  name = "dst"
  type = "foreign"
  ref = "account"

  [[table.column]]
  name = "amount"
  type = "integer"
`

func runInit(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(flagInitDir, 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	files := map[string]string{
		"tabled.toml":        starterSchema,
		"tabled.config.toml": config.DefaultFileBody,
	}
	for name, body := range files {
		path := filepath.Join(flagInitDir, name)
		if _, err := os.Stat(path); err == nil && !flagInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		fmt.Println("wrote", path)
	}
	return nil
}
