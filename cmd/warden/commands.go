package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	osexec "os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/alekspetrov/warden/internal/approval"
	"github.com/alekspetrov/warden/internal/banner"
	"github.com/alekspetrov/warden/internal/cliadapter"
	"github.com/alekspetrov/warden/internal/config"
	"github.com/alekspetrov/warden/internal/executor"
	"github.com/alekspetrov/warden/internal/gateway"
	"github.com/alekspetrov/warden/internal/logging"
	"github.com/alekspetrov/warden/internal/pipeline"
	"github.com/alekspetrov/warden/internal/store"
	"github.com/alekspetrov/warden/internal/supervisor"
	"github.com/alekspetrov/warden/internal/termpool"
)

func newStartCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the Warden daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if err := logging.Init(cfg.Logging); err != nil {
				return fmt.Errorf("failed to init logging: %w", err)
			}
			log := logging.WithComponent("warden")

			banner.StartupBanner(version,
				fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
				cfg.Pool.Capacity)

			pool := termpool.New(cfg.Pool)
			defer pool.KillAll()

			registry := cfg.Registry()
			gate := approval.NewGate(cfg.Approval)

			sup := supervisor.New(cfg.Supervisor, pool, &supervisor.PoolLauncher{
				Pool:     pool,
				Registry: registry,
			})

			st, err := store.NewStore(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer st.Close()

			tools := &localToolRunner{workdir: cfg.Supervisor.Workdir}
			exec := executor.New(executor.NewPoolSpawner(pool, registry), gate, tools, cfg.Executor)

			pipe := pipeline.New(exec, cfg.Pipeline)
			pipe.SetSaver(st)

			server := gateway.NewServer(cfg.Gateway, gate, sup)
			gate.SetNotifier(server.NotifyApproval)
			pipe.SetNotifier(server.PipelineNotifier())

			if err := sup.StartMonitor(); err != nil {
				return fmt.Errorf("failed to start heartbeat monitor: %w", err)
			}
			defer sup.StopMonitor()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				log.Info("shutdown signal received", "signal", sig.String())
				cancel()
			}()

			log.Info("warden started",
				"gateway", fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
				"pool_capacity", cfg.Pool.Capacity)

			if err := server.Start(ctx); err != nil {
				return fmt.Errorf("gateway stopped: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "config file path")
	return cmd
}

func newRunCmd() *cobra.Command {
	var (
		configPath  string
		description string
		workdir     string
		agentName   string
	)

	cmd := &cobra.Command{
		Use:   "run <title>",
		Short: "Run a single task through the phase pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if err := logging.Init(cfg.Logging); err != nil {
				return fmt.Errorf("failed to init logging: %w", err)
			}

			pool := termpool.New(cfg.Pool)
			defer pool.KillAll()

			registry := cfg.Registry()
			gate := approval.NewGate(cfg.Approval)

			sup := supervisor.New(cfg.Supervisor, pool, &supervisor.PoolLauncher{
				Pool:     pool,
				Registry: registry,
			})

			st, err := store.NewStore(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer st.Close()

			if workdir == "" {
				workdir, _ = os.Getwd()
			}

			tools := &localToolRunner{workdir: workdir}
			exec := executor.New(executor.NewPoolSpawner(pool, registry), gate, tools, cfg.Executor)

			pipe := pipeline.New(exec, cfg.Pipeline)
			pipe.SetSaver(st)
			pipe.SetNotifier(func(taskID uuid.UUID, event string) {
				fmt.Printf("  %s\n", event)
			})

			agentID, err := sup.SpawnAgent(agentName, cfg.Pipeline.Role, cfg.Pipeline.CLI)
			if err != nil {
				return fmt.Errorf("failed to spawn agent: %w", err)
			}
			defer func() { _ = sup.StopAgent(agentID) }()

			task := pipeline.NewTask(args[0], description, workdir)
			task.AgentID = agentID

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			fmt.Printf("Running task %s\n", task.ID)
			result, err := pipe.Run(ctx, task)
			if err != nil {
				if errors.Is(err, pipeline.ErrEscalated) {
					fmt.Println("Task escalated for human review.")
				}
				return fmt.Errorf("task failed in phase %s: %w", task.Phase, err)
			}

			fmt.Printf("Task complete in %s (fix iterations: %d, recoveries: %d)\n",
				result.Duration.Round(time.Second), result.FixIterations, result.Recoveries)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "config file path")
	cmd.Flags().StringVarP(&description, "description", "d", "", "task description")
	cmd.Flags().StringVarP(&workdir, "workdir", "w", "", "working directory for the task")
	cmd.Flags().StringVar(&agentName, "agent", "worker", "name for the spawned agent")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check config, tool binaries, and daemon health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				fmt.Printf("✗ config: %v\n", err)
			} else {
				fmt.Println("✓ config valid")
			}

			registry := cfg.Registry()
			for _, cli := range cliadapter.All() {
				adapter, err := registry.Get(cli)
				if err != nil {
					continue
				}
				if _, err := osexec.LookPath(adapter.BinaryName()); err != nil {
					fmt.Printf("✗ %s: %s not found in PATH\n", cli, adapter.BinaryName())
				} else {
					fmt.Printf("✓ %s (%s)\n", cli, adapter.BinaryName())
				}
			}

			var health struct {
				Status string `json:"status"`
			}
			if err := getJSON(gatewayURL(cfg, "/health"), &health); err != nil {
				fmt.Printf("✗ daemon: not running (%v)\n", err)
			} else {
				fmt.Printf("✓ daemon: %s\n", health.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "config file path")
	return cmd
}

func newAgentsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List agents known to the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			var body struct {
				Agents []struct {
					ID    string `json:"id"`
					Name  string `json:"name"`
					Role  string `json:"role"`
					CLI   string `json:"cli"`
					State string `json:"state"`
				} `json:"agents"`
			}
			if err := getJSON(gatewayURL(cfg, "/api/v1/agents"), &body); err != nil {
				return err
			}

			if len(body.Agents) == 0 {
				fmt.Println("No agents.")
				return nil
			}
			for _, a := range body.Agents {
				fmt.Printf("%s  %-12s %-8s %-10s %s\n", a.ID, a.Name, a.Role, a.CLI, a.State)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "config file path")
	return cmd
}

func newApprovalsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Inspect and resolve pending tool approvals",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List pending approval requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			var body struct {
				Approvals []struct {
					ID      string `json:"id"`
					AgentID string `json:"agent_id"`
					Tool    string `json:"tool"`
					Status  string `json:"status"`
				} `json:"approvals"`
			}
			if err := getJSON(gatewayURL(cfg, "/api/v1/approvals"), &body); err != nil {
				return err
			}

			if len(body.Approvals) == 0 {
				fmt.Println("No pending approvals.")
				return nil
			}
			for _, a := range body.Approvals {
				fmt.Printf("%s  %-20s agent=%s %s\n", a.ID, a.Tool, a.AgentID, a.Status)
			}
			return nil
		},
	}

	approveCmd := &cobra.Command{
		Use:   "approve <request-id>",
		Short: "Approve a pending tool request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendDecision(configPath, "approve", args[0])
		},
	}

	denyCmd := &cobra.Command{
		Use:   "deny <request-id>",
		Short: "Deny a pending tool request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendDecision(configPath, "deny", args[0])
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "config file path")
	cmd.AddCommand(listCmd, approveCmd, denyCmd)
	return cmd
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultConfigPath()
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			}
			if err := config.Save(config.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Printf("Config written to %s\n", path)
			return nil
		},
	}
}

// sendDecision resolves an approval over the daemon's websocket, the same
// path dashboard clients use.
func sendDecision(configPath, action, id string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid request id: %w", err)
	}

	url := fmt.Sprintf("ws://%s:%d/ws", cfg.Gateway.Host, cfg.Gateway.Port)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("failed to reach daemon at %s: %w", url, err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(&gateway.Decision{Action: action, ID: id}); err != nil {
		return fmt.Errorf("failed to send decision: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ack struct {
		Type  string `json:"type"`
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	for {
		if err := conn.ReadJSON(&ack); err != nil {
			return fmt.Errorf("no acknowledgment from daemon: %w", err)
		}
		if ack.Type == "decision_ack" {
			break
		}
	}
	if !ack.OK {
		return fmt.Errorf("daemon rejected decision: %s", ack.Error)
	}
	fmt.Printf("Request %s %sd\n", id, action)
	return nil
}

func gatewayURL(cfg *config.Config, path string) string {
	return fmt.Sprintf("http://%s:%d%s", cfg.Gateway.Host, cfg.Gateway.Port, path)
}

func getJSON(url string, out any) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to reach daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
