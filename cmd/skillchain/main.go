package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"github.com/hatchery-ai/skillchain"
)

const usage = `skillchain - drive chain executions from the command line

Usage:
  skillchain <command> [flags]

Commands:
  start          Start a new execution of a chain
  record         Record the outcome of a link attempt
  advance        Resolve and apply the next transition
  pause          Pause a running execution
  resume         Resume a paused execution
  cancel         Cancel an execution
  show           Show one execution
  list           List executions
  interventions  List executions awaiting human intervention
  resolve        Resolve a pending intervention

Run "skillchain <command> -h" for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "start":
		err = runStart(args)
	case "record":
		err = runRecord(args)
	case "advance":
		err = runAdvance(args)
	case "pause":
		err = runPause(args)
	case "resume":
		err = runResume(args)
	case "cancel":
		err = runCancel(args)
	case "show":
		err = runShow(args)
	case "list":
		err = runList(args)
	case "interventions":
		err = runInterventions(args)
	case "resolve":
		err = runResolve(args)
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

// commonFlags holds flags shared by every subcommand
type commonFlags struct {
	dataDir   string
	chainsDir string
	verbose   bool
}

func registerCommonFlags(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.dataDir, "data", "", "data directory (default ~/.skillchain)")
	fs.StringVar(&c.chainsDir, "chains", "chains", "directory of chain YAML definitions")
	fs.BoolVar(&c.verbose, "verbose", false, "enable debug logging")
	return c
}

// buildEngine wires an engine over file-based stores
func buildEngine(c *commonFlags) (*skillchain.Engine, error) {
	dataDir := c.dataDir
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".skillchain")
	}

	chains, err := loadChains(c.chainsDir)
	if err != nil {
		return nil, err
	}
	store, err := skillchain.NewFileExecutionStore(filepath.Join(dataDir, "executions"))
	if err != nil {
		return nil, err
	}
	sessions, err := skillchain.NewFileSessionStore(filepath.Join(dataDir, "sessions"))
	if err != nil {
		return nil, err
	}

	logger := skillchain.NewLogger()
	if !c.verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}

	return skillchain.NewEngine(skillchain.EngineOptions{
		Chains:        chains,
		Store:         store,
		Sessions:      sessions,
		OutcomeLogger: skillchain.NewFileOutcomeLogger(filepath.Join(dataDir, "outcomes")),
		Logger:        logger,
	})
}

// loadChains builds a registry from every YAML file in a directory
func loadChains(dir string) (*skillchain.ChainRegistry, error) {
	registry := skillchain.NewChainRegistry()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return registry, nil
		}
		return nil, fmt.Errorf("failed to read chains directory: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		chain, err := skillchain.LoadChainFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to load chain %s: %w", name, err)
		}
		registry.Register(chain)
	}
	return registry, nil
}

func runStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	common := registerCommonFlags(fs)
	chainID := fs.String("chain-id", "", "id of the chain to execute (required)")
	ticketID := fs.String("ticket", "", "associated ticket id")
	startedBy := fs.String("by", "", "who is starting the execution")
	sessionID := fs.String("session-id", "", "session id for session-state sync")
	autoSave := fs.Bool("auto-save", false, "save session state on link completion")
	autoLoad := fs.Bool("auto-load", false, "load prior session state on start")
	autoClear := fs.Bool("auto-clear", false, "clear session state on completion")
	inputsJSON := fs.String("inputs", "", "JSON object of input values")
	fs.Parse(args)

	if *chainID == "" {
		return fmt.Errorf("-chain-id is required")
	}
	var inputs map[string]any
	if *inputsJSON != "" {
		if err := json.Unmarshal([]byte(*inputsJSON), &inputs); err != nil {
			return fmt.Errorf("invalid -inputs JSON: %w", err)
		}
	}
	var session *skillchain.SessionConfig
	if *sessionID != "" {
		session = &skillchain.SessionConfig{
			SessionID:              *sessionID,
			AutoSaveOnLinkComplete: *autoSave,
			AutoLoadOnStart:        *autoLoad,
			AutoClearOnComplete:    *autoClear,
			AutoSaveOnPause:        *autoSave,
			AutoSaveOnCancel:       *autoSave,
		}
	}

	engine, err := buildEngine(common)
	if err != nil {
		return err
	}
	execution, err := engine.StartExecution(context.Background(), skillchain.StartOptions{
		ChainID:   *chainID,
		TicketID:  *ticketID,
		Inputs:    inputs,
		Session:   session,
		StartedBy: *startedBy,
	})
	if err != nil {
		return err
	}
	color.Green("Started execution %s", execution.ID)
	printExecution(execution)
	return nil
}

func runRecord(args []string) error {
	fs := flag.NewFlagSet("record", flag.ExitOnError)
	common := registerCommonFlags(fs)
	executionID := fs.String("exec", "", "execution id (required)")
	linkID := fs.String("link", "", "link id (required)")
	outcome := fs.String("outcome", "", "success or failure (required)")
	output := fs.String("output", "", "link output (JSON or text)")
	errorDetails := fs.String("error", "", "error details for a failure")
	executedBy := fs.String("by", "", "who executed the link")
	fs.Parse(args)

	if *executionID == "" || *linkID == "" || *outcome == "" {
		return fmt.Errorf("-exec, -link, and -outcome are required")
	}

	engine, err := buildEngine(common)
	if err != nil {
		return err
	}
	attempt, err := engine.RecordLinkOutcome(context.Background(), *executionID, skillchain.OutcomeReport{
		LinkID:       *linkID,
		Outcome:      skillchain.OutcomeStatus(*outcome),
		Output:       *output,
		ErrorDetails: *errorDetails,
		ExecutedBy:   *executedBy,
	})
	if err != nil {
		return err
	}
	color.Green("Recorded %s for link %s (attempt %d)", attempt.Outcome, attempt.LinkID, attempt.AttemptNumber)
	return nil
}

func runAdvance(args []string) error {
	fs := flag.NewFlagSet("advance", flag.ExitOnError)
	common := registerCommonFlags(fs)
	executionID := fs.String("exec", "", "execution id (required)")
	fs.Parse(args)

	if *executionID == "" {
		return fmt.Errorf("-exec is required")
	}
	engine, err := buildEngine(common)
	if err != nil {
		return err
	}
	execution, err := engine.AdvanceExecution(context.Background(), *executionID)
	if err != nil {
		return err
	}
	printExecution(execution)
	return nil
}

func runPause(args []string) error {
	fs := flag.NewFlagSet("pause", flag.ExitOnError)
	common := registerCommonFlags(fs)
	executionID := fs.String("exec", "", "execution id (required)")
	reason := fs.String("reason", "", "why the execution is being paused")
	pausedBy := fs.String("by", "", "who is pausing")
	fs.Parse(args)

	if *executionID == "" {
		return fmt.Errorf("-exec is required")
	}
	engine, err := buildEngine(common)
	if err != nil {
		return err
	}
	execution, err := engine.PauseExecution(context.Background(), *executionID, *reason, *pausedBy)
	if err != nil {
		return err
	}
	color.Yellow("Paused execution %s", execution.ID)
	return nil
}

func runResume(args []string) error {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	common := registerCommonFlags(fs)
	executionID := fs.String("exec", "", "execution id (required)")
	contextJSON := fs.String("context", "", "JSON object merged into the execution context")
	fs.Parse(args)

	if *executionID == "" {
		return fmt.Errorf("-exec is required")
	}
	var additional map[string]any
	if *contextJSON != "" {
		if err := json.Unmarshal([]byte(*contextJSON), &additional); err != nil {
			return fmt.Errorf("invalid -context JSON: %w", err)
		}
	}
	engine, err := buildEngine(common)
	if err != nil {
		return err
	}
	execution, err := engine.ResumeExecution(context.Background(), *executionID, additional)
	if err != nil {
		return err
	}
	color.Green("Resumed execution %s at link %s", execution.ID, execution.CurrentLinkID)
	return nil
}

func runCancel(args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	common := registerCommonFlags(fs)
	executionID := fs.String("exec", "", "execution id (required)")
	reason := fs.String("reason", "", "why the execution is being cancelled")
	cancelledBy := fs.String("by", "", "who is cancelling")
	fs.Parse(args)

	if *executionID == "" {
		return fmt.Errorf("-exec is required")
	}
	engine, err := buildEngine(common)
	if err != nil {
		return err
	}
	execution, err := engine.CancelExecution(context.Background(), *executionID, *reason, *cancelledBy)
	if err != nil {
		return err
	}
	color.Yellow("Cancelled execution %s", execution.ID)
	return nil
}

func runShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	common := registerCommonFlags(fs)
	executionID := fs.String("exec", "", "execution id (required)")
	asJSON := fs.Bool("json", false, "print the full aggregate as JSON")
	fs.Parse(args)

	if *executionID == "" {
		return fmt.Errorf("-exec is required")
	}
	engine, err := buildEngine(common)
	if err != nil {
		return err
	}
	execution, err := engine.GetExecution(context.Background(), *executionID)
	if err != nil {
		return err
	}
	if *asJSON {
		data, err := json.MarshalIndent(execution, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	printExecution(execution)
	for _, attempt := range execution.Attempts {
		fmt.Printf("  attempt %d of %s: %s", attempt.AttemptNumber, attempt.LinkID, attempt.Outcome)
		if attempt.TransitionTaken != "" {
			fmt.Printf(" -> %s", attempt.TransitionTaken)
		}
		fmt.Println()
	}
	if checkpoint := execution.LatestCheckpoint(); checkpoint != nil {
		fmt.Printf("  latest checkpoint: %s (position %d)\n", checkpoint.LinkName, checkpoint.Position)
	}
	return nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	common := registerCommonFlags(fs)
	status := fs.String("status", "", "filter by status")
	limit := fs.Int("limit", 0, "maximum results")
	fs.Parse(args)

	store, err := skillchain.NewFileExecutionStore(filepath.Join(dataDirOrDefault(common), "executions"))
	if err != nil {
		return err
	}
	executions, err := store.ListExecutions(context.Background(), skillchain.ExecutionFilter{
		Status: skillchain.ExecutionStatus(*status),
		Limit:  *limit,
	})
	if err != nil {
		return err
	}
	if len(executions) == 0 {
		fmt.Println("no executions")
		return nil
	}
	for _, execution := range executions {
		printExecution(execution)
	}
	return nil
}

func runInterventions(args []string) error {
	fs := flag.NewFlagSet("interventions", flag.ExitOnError)
	common := registerCommonFlags(fs)
	chainID := fs.String("chain-id", "", "filter by chain id")
	fs.Parse(args)

	engine, err := buildEngine(common)
	if err != nil {
		return err
	}
	pending, err := engine.PendingInterventions(context.Background(), skillchain.InterventionFilter{
		ChainID: *chainID,
	})
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("no pending interventions")
		return nil
	}
	for _, execution := range pending {
		color.Red("%s  chain=%s  failures=%d", execution.ID, execution.ChainName, execution.TotalFailureCount)
		fmt.Printf("  reason: %s\n", execution.InterventionReason)
	}
	return nil
}

func runResolve(args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	common := registerCommonFlags(fs)
	executionID := fs.String("exec", "", "execution id (required)")
	action := fs.String("action", "", "retry, goto_link, complete, or escalate (required)")
	target := fs.String("target", "", "target link id for goto_link")
	note := fs.String("note", "", "resolution note")
	resolvedBy := fs.String("by", "", "who resolved the intervention")
	fs.Parse(args)

	if *executionID == "" || *action == "" {
		return fmt.Errorf("-exec and -action are required")
	}
	engine, err := buildEngine(common)
	if err != nil {
		return err
	}
	execution, err := engine.ResolveIntervention(context.Background(), *executionID, skillchain.ResolveInterventionOptions{
		Resolution:   *note,
		NextAction:   skillchain.TransitionType(*action),
		TargetLinkID: *target,
		ResolvedBy:   *resolvedBy,
	})
	if err != nil {
		return err
	}
	color.Green("Resolved intervention on %s (now %s)", execution.ID, execution.Status)
	return nil
}

func dataDirOrDefault(c *commonFlags) string {
	if c.dataDir != "" {
		return c.dataDir
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("failed to get user home directory: %v", err)
	}
	return filepath.Join(homeDir, ".skillchain")
}

func printExecution(execution *skillchain.Execution) {
	statusColor := color.New(color.FgCyan)
	switch execution.Status {
	case skillchain.ExecutionStatusCompleted:
		statusColor = color.New(color.FgGreen)
	case skillchain.ExecutionStatusPaused:
		statusColor = color.New(color.FgYellow)
	case skillchain.ExecutionStatusCancelled:
		statusColor = color.New(color.FgRed)
	}
	statusColor.Printf("%s  %s", execution.ID, execution.Status)
	fmt.Printf("  chain=%s", execution.ChainName)
	if execution.CurrentLinkID != "" {
		fmt.Printf("  link=%s", execution.CurrentLinkID)
	}
	if execution.TotalFailureCount > 0 {
		fmt.Printf("  failures=%d", execution.TotalFailureCount)
	}
	if execution.RequiresHumanIntervention {
		color.Red("  [intervention required]")
	}
	fmt.Println()
}
