// Package main implements the magicrune CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tidwall/jsonc"

	"github.com/magicrune/magicrune/internal/executor"
	"github.com/magicrune/magicrune/internal/obslog"
	"github.com/magicrune/magicrune/internal/pipeline"
	"github.com/magicrune/magicrune/internal/policydoc"
	"github.com/magicrune/magicrune/internal/quarantine"
	"github.com/magicrune/magicrune/internal/schema"
	"github.com/magicrune/magicrune/internal/worker"
)

// Build-time variables (set via -ldflags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var (
	debug       bool
	monitor     bool
	strict      bool
	requestPath string
	policyPath  string
	timeoutFlag int
	seedFlag    int64
	outPath     string
	showVersion bool
	natsURL     string
	natsSubject string
	exitCode    int
)

func main() {
	// Check for the internal jailer re-exec mode before cobra parses flags,
	// mirroring the teacher's own --landlock-apply check.
	if len(os.Args) >= 2 && os.Args[1] == executor.JailerFlag {
		executor.RunJailer()
		return
	}

	rootCmd := &cobra.Command{
		Use:   "magicrune",
		Short: "Evaluate, grade and sandbox-execute untrusted commands",
		Long: `magicrune grades an incoming command against a policy document, and,
unless the verdict is red, executes it inside a sandbox (native Linux
namespaces or a WASI engine) under resource limits.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&monitor, "monitor", "m", false, "Log each completed run")
	rootCmd.PersistentFlags().BoolVarP(&showVersion, "version", "v", false, "Show version information")

	execCmd := &cobra.Command{
		Use:   "exec",
		Short: "Evaluate and execute a single SpellRequest",
		RunE:  runExec,
	}
	execCmd.Flags().StringVarP(&requestPath, "f", "f", "", "Path to request.json")
	execCmd.Flags().StringVar(&policyPath, "policy", "", "Path to policy.yml (default: $MAGICRUNE_POLICY)")
	execCmd.Flags().IntVar(&timeoutFlag, "timeout", 0, "Override request timeout_sec")
	execCmd.Flags().Int64Var(&seedFlag, "seed", 0, "Override request seed")
	execCmd.Flags().StringVar(&outPath, "out", "", "Write result.json here instead of stdout")
	execCmd.Flags().BoolVar(&strict, "strict", false, "Fail instead of degrading when native isolation is unavailable")

	consumeCmd := &cobra.Command{
		Use:   "consume",
		Short: "Run the durable message worker",
		RunE:  runConsume,
	}
	consumeCmd.Flags().StringVar(&natsURL, "url", "", "Broker URL (default: $NATS_URL)")
	consumeCmd.Flags().StringVar(&natsSubject, "subject", "", "Request subject (default: $NATS_REQ_SUBJ)")

	rootCmd.AddCommand(execCmd, consumeCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "magicrune: %v\n", err)
		if exitCode == 0 {
			exitCode = 4
		}
	}
	os.Exit(exitCode)
}

func printVersion() {
	fmt.Printf("magicrune - sandboxed command grading and execution service\n")
	fmt.Printf("  Version: %s\n", version)
	fmt.Printf("  Built:   %s\n", buildTime)
	fmt.Printf("  Commit:  %s\n", gitCommit)
}

func loadRequest(path string) (*schema.SpellRequest, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading request file: %w", err)
	}
	body := jsonc.ToJSON(raw)
	var req schema.SpellRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, nil, fmt.Errorf("parsing request json: %w", err)
	}
	return &req, body, nil
}

func runExec(cmd *cobra.Command, args []string) error {
	log := obslog.New(debug, monitor)
	defer log.Sync()

	if requestPath == "" {
		exitCode = 1
		return fmt.Errorf("-f <request.json> is required")
	}

	req, body, err := loadRequest(requestPath)
	if err != nil {
		exitCode = 1
		return err
	}
	if timeoutFlag > 0 {
		req.TimeoutSec = timeoutFlag
	}
	if seedFlag != 0 {
		s := seedFlag
		req.Seed = &s
	}
	if err := req.Validate(); err != nil {
		exitCode = 1
		return err
	}

	polPath := policyPath
	if polPath == "" {
		polPath = os.Getenv("MAGICRUNE_POLICY")
	}
	if polPath == "" {
		exitCode = 1
		return fmt.Errorf("no policy path given; pass --policy or set MAGICRUNE_POLICY")
	}
	pol, err := policydoc.Load(polPath)
	if err != nil {
		exitCode = 1
		return fmt.Errorf("loading policy: %w", err)
	}
	if err := pol.Validate(); err != nil {
		exitCode = 1
		return fmt.Errorf("invalid policy: %w", err)
	}

	var exec executor.Executor
	if executor.IsDryRun() {
		exec = executor.NewDryRun()
	} else {
		backend := executor.Select()
		opts := executor.OptionsFromEnv()
		opts.Debug = debug
		opts.Strict = strict
		modulePath := req.Cmd
		exec, err = executor.New(backend, modulePath, opts)
		if err != nil {
			exitCode = 4
			return fmt.Errorf("constructing executor: %w", err)
		}
	}

	ec := obslog.NewExecutionContext("", req.PolicyID)
	ctx := context.Background()
	res, runErr := pipeline.Run(ctx, body, req, pol, exec)
	ec.RunID = res.RunID

	if res.Violation != nil {
		log.RecordPolicyViolation(ec, res.Violation)
		exitCode = 3
		return res.Violation
	}
	if runErr != nil {
		log.RecordError(ec, runErr)
		exitCode = 4
		return runErr
	}

	result := pipeline.ToSpellResult(res)
	log.RecordCompletion(ec, string(result.Verdict), result.RiskScore, result.ExitCode)

	if result.Verdict == schema.VerdictRed {
		qw := quarantine.New(os.Getenv("MAGICRUNE_QUARANTINE_DIR"))
		if err := qw.Persist("", result, res.Sandbox.Stdout, res.Sandbox.Stderr); err != nil {
			log.Error("quarantine persist failed")
		}
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		exitCode = 2
		return fmt.Errorf("marshaling result: %w", err)
	}
	if outPath != "" {
		if err := os.WriteFile(outPath, out, 0o644); err != nil {
			exitCode = 2
			return fmt.Errorf("writing %s: %w", outPath, err)
		}
	} else {
		fmt.Println(string(out))
	}

	exitCode = result.ExitCode
	return nil
}

func runConsume(cmd *cobra.Command, args []string) error {
	log := obslog.New(debug, monitor)
	defer log.Sync()

	cfg := worker.ConfigFromEnv()
	if natsURL != "" {
		cfg.URL = natsURL
	}
	if natsSubject != "" {
		cfg.ReqSubject = natsSubject
	}

	polPath := os.Getenv("MAGICRUNE_POLICY")
	if polPath == "" {
		exitCode = 1
		return fmt.Errorf("MAGICRUNE_POLICY must be set for consume mode")
	}
	pol, err := policydoc.Load(polPath)
	if err != nil {
		exitCode = 1
		return fmt.Errorf("loading policy: %w", err)
	}

	backend := executor.Select()
	opts := executor.OptionsFromEnv()
	opts.Debug = debug
	exec, err := executor.New(backend, "", opts)
	if err != nil {
		exitCode = 4
		return fmt.Errorf("constructing executor: %w", err)
	}

	metrics := worker.NewMetrics(nil)
	w, err := worker.New(cfg, pol, exec, log, metrics)
	if err != nil {
		exitCode = 4
		return fmt.Errorf("starting worker: %w", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := w.Run(ctx, 10); err != nil && ctx.Err() == nil {
		exitCode = 4
		return fmt.Errorf("worker loop: %w", err)
	}
	return nil
}
