package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/wststone/Local-Code-Interpreter/internal/chat"
	"github.com/wststone/Local-Code-Interpreter/internal/config"
	"github.com/wststone/Local-Code-Interpreter/internal/interp"
	"github.com/wststone/Local-Code-Interpreter/internal/kernel"
	"github.com/wststone/Local-Code-Interpreter/internal/llm/openai"
	"github.com/wststone/Local-Code-Interpreter/internal/parser"
	"github.com/wststone/Local-Code-Interpreter/internal/store"
)

// version is the CLI build version.
const version = "0.1.0"

// options holds all CLI flags.
type options struct {
	// Config is an explicit config file path.
	Config string
	// Model overrides the configured model selection.
	Model string
	// Print enables non-interactive mode.
	Print bool
	// OutputFormat controls print mode output encoding.
	OutputFormat string
	// Continue resumes the most recent session.
	Continue bool
	// SessionID sets a fixed session id.
	SessionID string
	// MaxTurns caps follow-up requests within one user turn.
	MaxTurns int
	// NoSave disables session persistence.
	NoSave bool
	// Verbose toggles verbose output.
	Verbose bool
	// Version prints the CLI version.
	Version bool
}

// runContext bundles everything a UI mode needs to serve a conversation.
type runContext struct {
	// Runner executes user turns.
	Runner *chat.Runner
	// Session owns the conversation and execution backend.
	Session *interp.Session
	// Kernel is the local execution backend.
	Kernel *kernel.Kernel
	// Store persists sessions, nil when --no-save is set.
	Store *store.Store
	// Model is the resolved provider model id.
	Model string
	// OutputDir receives display artifacts.
	OutputDir string
}

func main() {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:   "interpreter [prompt]",
		Short: "Local Code Interpreter - chat with a model that runs Python locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Version {
				fmt.Println(version)
				return nil
			}
			return runRoot(cmd, opts, args)
		},
	}
	rootCmd.Args = cobra.ArbitraryArgs

	applyFlags(rootCmd.Flags(), opts)
	rootCmd.AddCommand(doctorCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// applyFlags defines all CLI flags.
func applyFlags(flags *pflag.FlagSet, opts *options) {
	flags.StringVar(&opts.Config, "config", "", "Config file path")
	flags.StringVar(&opts.Model, "model", "", "Model for the current session")
	flags.BoolVarP(&opts.Print, "print", "p", false, "Print response and exit")
	flags.StringVar(&opts.OutputFormat, "output-format", "text", "Output format (text|stream-json)")
	flags.BoolVarP(&opts.Continue, "continue", "c", false, "Continue the most recent conversation")
	flags.StringVar(&opts.SessionID, "session-id", "", "Use a specific session ID")
	flags.IntVar(&opts.MaxTurns, "max-turns", 0, "Maximum model responses per user turn")
	flags.BoolVar(&opts.NoSave, "no-save", false, "Disable session persistence")
	flags.BoolVar(&opts.Verbose, "verbose", false, "Verbose output")
	flags.BoolVarP(&opts.Version, "version", "v", false, "Output the version number")
}

// doctorCommand validates the configuration file.
func doctorCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check interpreter configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				if errors.Is(err, config.ErrConfigMissing) {
					return fmt.Errorf("config missing; create %s", mustConfigPath())
				}
				return fmt.Errorf("config invalid: %w", err)
			}
			if _, err := config.ResolveModel(cfg, ""); err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, "OK: configuration is valid")
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Config file path")
	return cmd
}

// mustConfigPath returns the default config path or a placeholder.
func mustConfigPath() string {
	path, err := config.DefaultPath()
	if err != nil {
		return "~/.local-code-interpreter/config.json"
	}
	return path
}

// runRoot orchestrates config loading, session handling, and mode dispatch.
func runRoot(cmd *cobra.Command, opts *options, args []string) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		if errors.Is(err, config.ErrConfigMissing) {
			return fmt.Errorf("config missing; create %s", mustConfigPath())
		}
		return fmt.Errorf("load config: %w", err)
	}

	model, err := config.ResolveModel(cfg, opts.Model)
	if err != nil {
		return err
	}

	sessions := store.New(cfg.CacheDir)
	sessionID, resumed, err := resolveSession(sessions, opts)
	if err != nil {
		return err
	}

	workDir, err := sessions.WorkDir(sessionID)
	if err != nil {
		return err
	}
	outputDir, err := sessions.OutputsDir(sessionID)
	if err != nil {
		return err
	}

	backend, err := kernel.New(kernel.Options{
		WorkDir:        workDir,
		PythonBin:      cfg.Kernel.PythonBin,
		Timeout:        time.Duration(cfg.Kernel.ExecTimeoutMS) * time.Millisecond,
		MaxOutputBytes: cfg.Kernel.MaxOutputBytes,
	})
	if err != nil {
		return fmt.Errorf("start kernel: %w", err)
	}

	session := interp.New(interp.Options{ID: sessionID, Backend: backend})
	if len(resumed) > 0 {
		session.LoadMessages(resumed)
	}

	client := openai.NewClient(cfg.APIBaseURL, cfg.APIKey, time.Duration(cfg.TimeoutMS)*time.Millisecond)
	runner := &chat.Runner{
		Client:    client,
		Parser:    parser.New(outputDir),
		Model:     model,
		MaxTurns:  opts.MaxTurns,
		Functions: openai.DefaultFunctions(),
	}

	run := &runContext{
		Runner:    runner,
		Session:   session,
		Kernel:    backend,
		Store:     sessions,
		Model:     model,
		OutputDir: outputDir,
	}
	if opts.NoSave {
		run.Store = nil
	}

	if opts.Print {
		return runPrintMode(cmd, opts, run, args)
	}
	if isTerminal() {
		return runTUI(opts, run)
	}
	return runInteractive(opts, run)
}

// resolveSession determines the session id and loads stored messages.
func resolveSession(sessions *store.Store, opts *options) (string, []openai.Message, error) {
	if opts.SessionID != "" {
		messages, err := loadSessionMessages(sessions, opts.SessionID)
		return opts.SessionID, messages, err
	}

	if opts.Continue {
		lastID, err := sessions.LoadLastSession()
		if err == nil && lastID != "" {
			messages, err := loadSessionMessages(sessions, lastID)
			return lastID, messages, err
		}
	}

	return uuid.NewString(), nil, nil
}

// loadSessionMessages reads stored messages, treating an absent log as a
// fresh session.
func loadSessionMessages(sessions *store.Store, sessionID string) ([]openai.Message, error) {
	messages, err := sessions.LoadMessages(sessionID)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return messages, nil
}

// persistTurn appends the conversation messages added during a turn.
func persistTurn(sessions *store.Store, session *interp.Session, previousLen int) error {
	if sessions == nil {
		return nil
	}
	messages := session.Messages()
	if previousLen > len(messages) {
		return nil
	}
	if err := sessions.AppendMessages(session.ID(), messages[previousLen:]); err != nil {
		return err
	}
	return sessions.SaveLastSession(session.ID())
}
