package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	shellwords "github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Dicklesworthstone/tabled/internal/client"
	"github.com/Dicklesworthstone/tabled/internal/value"
	"github.com/Dicklesworthstone/tabled/internal/wire"
)

var flagShellAddr string

func init() {
	shellCmd.Flags().StringVarP(&flagShellAddr, "addr", "a", "127.0.0.1:7880", "server address")
	rootCmd.AddCommand(shellCmd)
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive client shell",
	Long: `Connect to a server and issue commands interactively.

Commands:
  insert TABLE VALUE...            store a new row
  update TABLE ID VERSION VALUE... replace a row (version 0 forces)
  get    TABLE ID                  fetch a row
  drop   TABLE ID                  remove a row and its referrers
  scan   TABLE COLUMN OP [VALUE]   list matching row ids
  help                             show this text
  exit                             close the session

Values are typed literals: null, 42, 3.14, "text", @7 (foreign row
reference, @0 for none). OP is one of al, eq, ne, lt, gt, le, ge.`,
	RunE: runShell,
}

// shellStyles colorize output when stdout is a terminal.
type shellStyles struct {
	prompt lipgloss.Style
	err    lipgloss.Style
	ok     lipgloss.Style
}

func newShellStyles() shellStyles {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return shellStyles{}
	}
	return shellStyles{
		prompt: lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true),
		err:    lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		ok:     lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
	}
}

func runShell(cmd *cobra.Command, args []string) error {
	c, err := client.Dial(flagShellAddr)
	if err != nil {
		return err
	}
	defer c.Close()

	styles := newShellStyles()
	fmt.Printf("connected to %s\n", flagShellAddr)

	parser := shellwords.NewParser()
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(styles.prompt.Render("tabled> "), " ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		words, err := parser.Parse(line)
		if err != nil {
			fmt.Println(styles.err.Render("parse error: " + err.Error()))
			continue
		}
		if len(words) == 0 {
			continue
		}
		if words[0] == "exit" || words[0] == "quit" {
			return nil
		}

		out, err := runShellCommand(c, words)
		if err != nil {
			fmt.Println(styles.err.Render("error: " + err.Error()))
			continue
		}
		fmt.Println(styles.ok.Render(out))
	}
}

func runShellCommand(c *client.Client, words []string) (string, error) {
	switch words[0] {
	case "help":
		return shellCmd.Long, nil
	case "insert":
		if len(words) < 2 {
			return "", errors.New("usage: insert TABLE VALUE...")
		}
		tableID, err := parseTableID(words[1])
		if err != nil {
			return "", err
		}
		values, err := parseValues(words[2:])
		if err != nil {
			return "", err
		}
		id, version, err := c.Insert(tableID, values)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("row %d version %d", id, version), nil
	case "update":
		if len(words) < 4 {
			return "", errors.New("usage: update TABLE ID VERSION VALUE...")
		}
		tableID, err := parseTableID(words[1])
		if err != nil {
			return "", err
		}
		rowID, err := strconv.ParseInt(words[2], 10, 64)
		if err != nil {
			return "", fmt.Errorf("bad row id %q", words[2])
		}
		clientVersion, err := strconv.ParseInt(words[3], 10, 64)
		if err != nil {
			return "", fmt.Errorf("bad version %q", words[3])
		}
		values, err := parseValues(words[4:])
		if err != nil {
			return "", err
		}
		version, err := c.Update(tableID, rowID, clientVersion, values)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("version %d", version), nil
	case "get":
		if len(words) != 3 {
			return "", errors.New("usage: get TABLE ID")
		}
		tableID, err := parseTableID(words[1])
		if err != nil {
			return "", err
		}
		rowID, err := strconv.ParseInt(words[2], 10, 64)
		if err != nil {
			return "", fmt.Errorf("bad row id %q", words[2])
		}
		version, values, err := c.Get(tableID, rowID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("version %d: %s", version, renderValues(values)), nil
	case "drop":
		if len(words) != 3 {
			return "", errors.New("usage: drop TABLE ID")
		}
		tableID, err := parseTableID(words[1])
		if err != nil {
			return "", err
		}
		rowID, err := strconv.ParseInt(words[2], 10, 64)
		if err != nil {
			return "", fmt.Errorf("bad row id %q", words[2])
		}
		if err := c.Drop(tableID, rowID); err != nil {
			return "", err
		}
		return "dropped", nil
	case "scan":
		if len(words) < 4 {
			return "", errors.New("usage: scan TABLE COLUMN OP [VALUE]")
		}
		tableID, err := parseTableID(words[1])
		if err != nil {
			return "", err
		}
		columnID, err := strconv.ParseInt(words[2], 10, 32)
		if err != nil {
			return "", fmt.Errorf("bad column id %q", words[2])
		}
		op, err := parseOperator(words[3])
		if err != nil {
			return "", err
		}
		comparand := value.Null()
		if len(words) > 4 {
			comparand, err = parseValue(words[4])
			if err != nil {
				return "", err
			}
		}
		ids, err := c.Scan(tableID, int32(columnID), op, comparand)
		if err != nil {
			return "", err
		}
		if len(ids) == 0 {
			return "no rows", nil
		}
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = strconv.FormatInt(id, 10)
		}
		return fmt.Sprintf("%d rows: %s", len(ids), strings.Join(parts, " ")), nil
	default:
		return "", fmt.Errorf("unknown command %q (try help)", words[0])
	}
}

func parseTableID(s string) (int32, error) {
	id, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad table id %q", s)
	}
	return int32(id), nil
}

func parseOperator(s string) (wire.Operator, error) {
	switch strings.ToLower(s) {
	case "al", "all":
		return wire.OpAll, nil
	case "eq", "=", "==":
		return wire.OpEQ, nil
	case "ne", "!=":
		return wire.OpNE, nil
	case "lt", "<":
		return wire.OpLT, nil
	case "gt", ">":
		return wire.OpGT, nil
	case "le", "<=":
		return wire.OpLE, nil
	case "ge", ">=":
		return wire.OpGE, nil
	default:
		return 0, fmt.Errorf("unknown operator %q", s)
	}
}

// parseValue turns a shell word into a typed value. Quoting has already
// been stripped by the tokenizer, so bare words that are not null, a
// number, or an @ref are text.
func parseValue(word string) (value.Value, error) {
	switch {
	case word == "null":
		return value.Null(), nil
	case strings.HasPrefix(word, "@"):
		id, err := strconv.ParseInt(word[1:], 10, 64)
		if err != nil {
			return value.Value{}, fmt.Errorf("bad foreign reference %q", word)
		}
		return value.NewForeign(id), nil
	}
	if n, err := strconv.ParseInt(word, 10, 64); err == nil {
		return value.NewInt(n), nil
	}
	if f, err := strconv.ParseFloat(word, 64); err == nil {
		return value.NewFloat(f), nil
	}
	return value.NewText(word), nil
}

func parseValues(words []string) ([]value.Value, error) {
	values := make([]value.Value, 0, len(words))
	for _, w := range words {
		v, err := parseValue(w)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func renderValues(values []value.Value) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = v.String()
	}
	return strings.Join(parts, " ")
}
