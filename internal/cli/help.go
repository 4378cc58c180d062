package cli

import (
	"fmt"
	"io"
)

// commandInfo describes a top-level subcommand.
type commandInfo struct {
	Name     string
	Args     string
	Short    string
	Long     string
	Examples []string
}

var commands = []commandInfo{
	{
		Name:  "run",
		Args:  "[--config <file>]",
		Short: "Run the queue daemon (default action)",
		Long: `Run the submission engines in the foreground.

Watches connectivity, retries queued items on the configured schedule and
serves Prometheus metrics when server.metricsAddr is set. SIGHUP or an edit
to the config file reloads the log level and queue settings.`,
		Examples: []string{
			"rapport",
			"rapport run",
			"rapport run --config /etc/rapport/rapport.toml",
		},
	},
	{
		Name:  "init",
		Args:  "[--output <file>] [--endpoint <url>] [--backend <name>]",
		Short: "Write a default config file",
		Long: `Create a config file populated with defaults. The format follows the
file extension: .json, .toml or .yaml.`,
		Examples: []string{
			"rapport init",
			"rapport init --output rapport.yaml --endpoint https://api.example.com",
			"rapport init --backend sqlite --force",
		},
	},
	{
		Name:  "feedback",
		Args:  "--rating <1-5> [--text <msg>] [--meta k=v]",
		Short: "Submit or queue a feedback event",
		Long: `Send one feedback event. It is delivered immediately when the
endpoint is reachable and queued otherwise.`,
		Examples: []string{
			`rapport feedback --rating 5 --text "Love it"`,
			`rapport feedback --rating 2 --meta screen=checkout --offline`,
		},
	},
	{
		Name:  "experience",
		Args:  "--value <n> [--context <where>]",
		Short: "Submit or queue an experience event",
		Examples: []string{
			"rapport experience --value 3 --context onboarding",
		},
	},
	{
		Name:  "status",
		Args:  "[--json] [--items]",
		Short: "Show queue sizes and the install id",
		Examples: []string{
			"rapport status",
			"rapport status --json",
			"rapport status --items",
		},
	},
	{
		Name:  "flush",
		Args:  "[--timeout <dur>]",
		Short: "Deliver every queued item now",
		Long: `Probe the endpoint and run one processing pass on each queue. Items
that fail again stay queued with their retry count bumped.`,
		Examples: []string{
			"rapport flush",
			"rapport flush --timeout 2m",
		},
	},
	{
		Name:  "clear",
		Args:  "[--queue <feedback|experience>]",
		Short: "Discard queued items",
		Examples: []string{
			"rapport clear",
			"rapport clear --queue experience",
		},
	},
	{
		Name:  "version",
		Short: "Print version and build information",
		Examples: []string{
			"rapport version",
			"rapport --version",
		},
	},
}

// PrintHelp prints top-level help (rapport help).
func PrintHelp(w io.Writer, binaryName string) {
	fmt.Fprintf(w, `Rapport - offline feedback queue and retry engine

USAGE:
  %s [command] [flags]

COMMANDS:
`, binaryName)

	for _, c := range commands {
		fmt.Fprintf(w, "  %-12s %-48s %s\n", c.Name, c.Args, c.Short)
	}

	fmt.Fprintf(w, `
GLOBAL FLAGS:
  --config <file>   Path to config file (default: %s)
  --version         Print version information
  -h, --help        Show this help message

Run '%s help <command>' for detailed help on a specific command.
`, DefaultConfigPath, binaryName)
}

// PrintCommandHelp prints help for a specific subcommand. It returns false
// when cmdName is unknown.
func PrintCommandHelp(w io.Writer, binaryName, cmdName string) bool {
	for _, c := range commands {
		if c.Name != cmdName {
			continue
		}
		fmt.Fprintf(w, "COMMAND: %s %s\n\n", binaryName, c.Name)
		if c.Args != "" {
			fmt.Fprintf(w, "USAGE:\n  %s %s %s\n\n", binaryName, c.Name, c.Args)
		}
		if c.Long != "" {
			fmt.Fprintf(w, "DESCRIPTION:\n  %s\n\n", c.Long)
		}
		if len(c.Examples) > 0 {
			fmt.Fprintln(w, "EXAMPLES:")
			for _, ex := range c.Examples {
				fmt.Fprintf(w, "  %s\n", ex)
			}
			fmt.Fprintln(w)
		}
		return true
	}
	return false
}

// CommandNames returns all valid command names (used for error messages).
func CommandNames() []string {
	names := make([]string, len(commands))
	for i, c := range commands {
		names[i] = c.Name
	}
	return names
}
