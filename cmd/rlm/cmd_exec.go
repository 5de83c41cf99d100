package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	execCode        string
	execFile        string
	execDescription string
	navRun          bool
)

var execCmd = &cobra.Command{
	Use:   "exec",
	Short: "Run a script against the loaded conversation",
	Long: `Runs one script in the sandbox and prints the execution result as JSON.
The script comes from --code, --file, or standard input.`,
	Example: `  rlm exec -t chat.jsonl --code 'result = find_messages("deadline")'
  rlm exec --db rlm.db -f query.go`,
	Args: cobra.NoArgs,
	RunE: runExec,
}

var navCmd = &cobra.Command{
	Use:   "nav <query>",
	Short: "Generate navigation code for a plain-language query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runNav,
}

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Print the recent context window of the loaded conversation",
	Args:  cobra.NoArgs,
	RunE:  runContext,
}

func init() {
	execCmd.Flags().StringVar(&execCode, "code", "", "Script source")
	execCmd.Flags().StringVarP(&execFile, "file", "f", "", "Read the script from a file")
	execCmd.Flags().StringVarP(&execDescription, "description", "d", "", "Description recorded with the execution")

	navCmd.Flags().BoolVar(&navRun, "run", false, "Execute the generated code")
}

// commandContext bounds the command by the global --timeout.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

func readScript(cmd *cobra.Command) (string, error) {
	switch {
	case execCode != "" && execFile != "":
		return "", fmt.Errorf("use either --code or --file, not both")
	case execCode != "":
		return execCode, nil
	case execFile != "":
		data, err := os.ReadFile(execFile)
		if err != nil {
			return "", fmt.Errorf("read script: %w", err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	return string(data), nil
}

func runExec(cmd *cobra.Command, args []string) error {
	code, err := readScript(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	m, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer m.Close()

	res := m.ExecuteCode(ctx, code, execDescription)
	if err := printJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if res.Error != "" {
		return fmt.Errorf("%s: %s", res.ErrorKind, res.Error)
	}
	return nil
}

func runNav(cmd *cobra.Command, args []string) error {
	query := args[0]
	for _, a := range args[1:] {
		query += " " + a
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	m, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer m.Close()

	code := m.GenerateNavigationCode(query)
	if !navRun {
		fmt.Fprintln(cmd.OutOrStdout(), code)
		return nil
	}
	res := m.ExecuteCode(ctx, code, query)
	return printJSON(cmd.OutOrStdout(), res)
}

func runContext(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	m, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer m.Close()

	return printJSON(cmd.OutOrStdout(), m.GetContext())
}
