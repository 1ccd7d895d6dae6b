// Command parley supervises coding-agent CLI processes and routes
// multi-agent group conversations between them.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/drewfead/parley/internal/config"
	"github.com/drewfead/parley/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
)

var cfg *config.Config

func main() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		SentryDSN: cfg.Logging.SentryDSN,
		Version:   version,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Flush(2 * time.Second)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Supervisor and router for coding-agent CLI processes",
	Long: `Parley runs multiple coding-agent CLIs (claude, codex, gemini) as
supervised processes, normalizes their streaming output into one event
model, and can wire several agents into a moderated group conversation
with automatic crash recovery.`,
}

var runCmd = &cobra.Command{
	Use:   "run <agent> <prompt>",
	Short: "Run a single agent session and stream its output",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		usePTY, _ := cmd.Flags().GetBool("pty")
		return runSingle(cmd.Context(), args[0], strings.Join(args[1:], " "), dir, usePTY)
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat <agent> <agent> [agent...]",
	Short: "Start a group conversation between agents",
	Long: `Spawn one session per named agent, enroll them in a shared
conversation, and route turns between them. Turn order follows explicit
@mentions in each response, falling back to round-robin. A moderator
synthesis summarizes the conversation at the end.

Examples:
  parley chat claude codex --prompt "Design a rate limiter"
  parley chat claude codex gemini --prompt "Review this API" --turns 9 --no-synthesis`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt, _ := cmd.Flags().GetString("prompt")
		turns, _ := cmd.Flags().GetInt("turns")
		noSynth, _ := cmd.Flags().GetBool("no-synthesis")
		dir, _ := cmd.Flags().GetString("dir")
		if prompt == "" {
			return fmt.Errorf("--prompt is required")
		}
		return runChat(cmd.Context(), args, prompt, dir, turns, !noSynth)
	},
}

var transcriptCmd = &cobra.Command{
	Use:   "transcript",
	Short: "Inspect stored conversation transcripts",
}

var transcriptListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTranscriptList(cmd.Context())
	},
}

var transcriptShowCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Render a conversation transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTranscriptShow(cmd.Context(), args[0])
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that configured agent binaries are installed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDoctor(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("parley %s (%s)\n", version, commit)
	},
}

func init() {
	runCmd.Flags().String("dir", "", "working directory for the agent process")
	runCmd.Flags().Bool("pty", false, "run the agent on a pseudo-terminal")

	chatCmd.Flags().String("prompt", "", "opening prompt for the conversation")
	chatCmd.Flags().String("dir", "", "working directory for agent processes")
	chatCmd.Flags().Int("turns", 6, "number of turns before synthesis")
	chatCmd.Flags().Bool("no-synthesis", false, "skip the moderator summary")

	transcriptCmd.AddCommand(transcriptListCmd, transcriptShowCmd)
	rootCmd.AddCommand(runCmd, chatCmd, transcriptCmd, doctorCmd, versionCmd)
}
