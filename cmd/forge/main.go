// Command forge is the CLI entry point: a small cobra dispatcher wiring
// config, the live or stub Executor, and the Session Manager, grounded on
// the teacher's cmd/cobra_cli.go root-command layout.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"forge/internal/config"
	"forge/internal/executor"
	"forge/internal/executor/claudecode"
	"forge/internal/executor/stub"
	"forge/internal/metrics"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var metricsAddr string

	root := &cobra.Command{
		Use:   "forge",
		Short: "Supervise coding-agent executors against a durable task queue.",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve /metrics and /healthz on, e.g. :9090")

	root.AddCommand(newReplCommand(&configPath, &metricsAddr))
	root.AddCommand(newRunCommand(&configPath, &metricsAddr))
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the forge version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

func newRunCommand(configPath, metricsAddr *string) *cobra.Command {
	var description string
	var taskType string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Enqueue a single task, wait for it to reach a terminal state, and print its summary.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			startMetricsServer(*metricsAddr)
			return runOnce(cmd.Context(), cfg, description, taskType)
		},
	}
	cmd.Flags().StringVar(&description, "task", "", "task description")
	cmd.Flags().StringVar(&taskType, "type", "IMPLEMENTATION", "READ_INFO or IMPLEMENTATION")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func newReplCommand(configPath, metricsAddr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive session.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			startMetricsServer(*metricsAddr)
			return runRepl(cmd.Context(), cfg)
		},
	}
}

func loadConfig(path string) (config.Config, error) {
	cfg := config.Defaults()
	cfg, err := config.LoadFile(cfg, path)
	if err != nil {
		return cfg, err
	}
	return config.LoadEnv(cfg), nil
}

func newExecutor(cfg config.Config) executor.Executor {
	if cfg.ExecutionMode == "live" {
		return claudecode.New(claudecode.Config{
			BinaryPath:          cfg.ExecutorBinary,
			Timeout:             cfg.ExecutorTimeout,
			GraceWindow:         cfg.GraceWindow,
			OutputCaptureLimit:  cfg.OutputCaptureLimit,
		})
	}
	return stub.New(cfg.RecoveryScenario, 30*time.Second)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func startMetricsServer(addr string) {
	if addr == "" {
		return
	}
	go func() {
		_ = metrics.Serve(addr)
	}()
}
