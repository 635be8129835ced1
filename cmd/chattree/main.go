package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/longregen/chattree/internal/adapters/tracing"
	"github.com/longregen/chattree/internal/config"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "chattree",
		Short: "Branching chat conversations over a streaming LLM backend",
		Long: `chattree keeps every conversation as a tree of messages. Edits and
regenerations create sibling branches instead of overwriting history, and
an interrupted client can reattach to a generation that is still running.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger = tracing.NewLogger(tracing.ParseLevel(cfg.Tracing.LogLevel))
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default $CHATTREE_CONFIG or ~/.config/chattree/config.json)")

	rootCmd.AddCommand(
		serveCmd(),
		migrateCmd(),
		chatCmd(),
		conversationsCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// configCmd prints the effective configuration with secrets masked
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printConfig(cmd.OutOrStdout(), cfg)
		},
	}
}

func printConfig(out io.Writer, c *config.Config) error {
	sections := []struct {
		name string
		rows [][2]string
	}{
		{"Server", [][2]string{
			{"Listen", fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)},
			{"CORS Origins", strings.Join(c.Server.CORSOrigins, ", ")},
		}},
		{"Database", [][2]string{
			{"PostgreSQL", maskSecret(c.Database.PostgresURL)},
			{"Max Conns", strconv.Itoa(c.Database.MaxConns)},
		}},
		{"LLM", [][2]string{
			{"URL", c.LLM.URL},
			{"Model", c.LLM.Model},
			{"Max Tokens", strconv.Itoa(c.LLM.MaxTokens)},
			{"Temperature", strconv.FormatFloat(c.LLM.Temperature, 'f', 2, 64)},
			{"API Key", maskSecret(c.LLM.APIKey)},
		}},
		{"Client", [][2]string{
			{"Server URL", c.Client.ServerURL},
			{"Workspace", c.Client.WorkspaceID},
			{"MessagePack", strconv.FormatBool(c.Client.UseMsgpack)},
			{"WebSocket", strconv.FormatBool(c.Client.UseWebSocket)},
		}},
		{"Tracing", [][2]string{
			{"Enabled", strconv.FormatBool(c.Tracing.Enabled)},
			{"Endpoint", orDefault(c.Tracing.OTLPEndpoint, "(stdout)")},
			{"Log Level", c.Tracing.LogLevel},
		}},
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for i, sec := range sections {
		if i > 0 {
			fmt.Fprintln(tw)
		}
		fmt.Fprintf(tw, "%s:\n", sec.name)
		for _, row := range sec.rows {
			fmt.Fprintf(tw, "  %s:\t%s\n", row[0], row[1])
		}
	}
	return tw.Flush()
}

// versionCmd shows version information
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("chattree %s\n", version)
			fmt.Printf("  Commit:     %s\n", commit)
			fmt.Printf("  Build Date: %s\n", buildDate)
		},
	}
}
