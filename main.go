package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	config "peeragent/app/configs"
	"peeragent/app/core/classify"
	"peeragent/app/core/hub"
	"peeragent/app/core/interaction/httpapi"
	"peeragent/app/core/interaction/ws"
	"peeragent/app/core/llm"
	"peeragent/app/core/memory"
	"peeragent/app/core/orchestrator"
	"peeragent/app/core/queue"
	"peeragent/app/core/search"
	"peeragent/app/core/sweep"
	"peeragent/app/core/taskstore"
	"peeragent/app/core/worker"
	"peeragent/app/pkg/logger"
)

const version = "1.0.0"

func main() {
	root := &cobra.Command{
		Use:   "peeragent",
		Short: "Multi-agent task orchestration service",
	}

	var configPath string
	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "path to config file")

	root.AddCommand(serveCommand(&configPath))
	root.AddCommand(cleanupCommand(&configPath))
	root.AddCommand(versionCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCommand(configPath *string) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}

			if err := logger.Init(cfg.App.LogDir, cfg.App.Debug); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			logger.Info("%s starting, version %s", cfg.App.Name, version)

			client, err := buildLLMClient(cfg)
			if err != nil {
				return err
			}

			store := taskstore.Open(cfg.App.DataDir, time.Duration(cfg.Task.TTLHours)*time.Hour)
			defer store.Close()

			sessions := memory.NewStore(
				time.Duration(cfg.Session.TTLMinutes)*time.Minute,
				cfg.Session.HistoryWindow,
			)
			classifier := classify.New(client, cfg.Classify.SingleMatchPriority)

			orch := orchestrator.New(classifier, sessions)
			orchestrator.RegisterDefaults(orch, client, search.NewClient(), cfg.Task.MaxQuestionRounds)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			q := queue.New(cfg.Queue.Buffer)
			if err := q.Start(ctx, cfg.Queue.Workers); err != nil {
				return err
			}
			defer func() {
				if err := q.Stop(time.Duration(cfg.Server.ShutdownTimeoutSec) * time.Second); err != nil {
					logger.Warn("Queue stop: %v", err)
				}
			}()

			runner := worker.NewRunner(q, orch, store, time.Duration(cfg.Queue.AttemptTimeoutSec)*time.Second)

			sweeper := sweep.New()
			if err := sweep.RegisterMaintenance(sweeper, store, sessions, time.Duration(cfg.Task.CleanupIntervalMin)*time.Minute); err != nil {
				return err
			}
			if err := sweeper.Start(ctx); err != nil {
				return err
			}
			defer sweeper.Stop()

			connections := hub.New()
			server := httpapi.NewServer(cfg.Server.Port, runner, orch, classifier, store, q, connections, sweeper)
			server.Mount(ws.PathPrefix, ws.NewHandler(connections, orch, time.Duration(cfg.Server.SyncTimeoutSec)*time.Second))

			group, groupCtx := errgroup.WithContext(ctx)
			group.Go(func() error {
				return server.Start(groupCtx)
			})

			if err := group.Wait(); err != nil {
				return err
			}
			logger.Info("%s stopped", cfg.App.Name)
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override the configured HTTP port")
	return cmd
}

func cleanupCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Reap expired task records and stale index entries, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.App.LogDir, cfg.App.Debug); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}

			store, err := taskstore.NewSQLiteStore(cfg.App.DataDir, time.Duration(cfg.Task.TTLHours)*time.Hour)
			if err != nil {
				return fmt.Errorf("failed to open task store: %w", err)
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			reaped, err := store.Cleanup(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("reaped %d stale index entries\n", reaped)
			return nil
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func loadConfig(path string) (config.Config, error) {
	manager, err := config.NewManager(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	return manager.Get(), nil
}

// buildLLMClient assembles the provider chain: the configured primary with
// the other vendor as an automatic fallback on auth-shaped failures.
func buildLLMClient(cfg config.Config) (llm.Client, error) {
	openaiClient, openaiErr := llm.NewOpenAIClient(cfg.LLM.OpenAIAPIKey, cfg.LLM.Model, cfg.LLM.Temperature)
	anthropicClient, anthropicErr := llm.NewAnthropicClient(cfg.LLM.AnthropicAPIKey, cfg.LLM.FallbackModel)

	switch cfg.LLM.Provider {
	case "anthropic":
		if anthropicErr != nil {
			return nil, fmt.Errorf("anthropic client: %w", anthropicErr)
		}
		if openaiErr == nil {
			return llm.NewFallbackClient(anthropicClient, openaiClient), nil
		}
		return anthropicClient, nil
	default:
		if openaiErr != nil {
			if anthropicErr == nil {
				logger.Warn("OpenAI unavailable (%v), using Anthropic only", openaiErr)
				return anthropicClient, nil
			}
			return nil, fmt.Errorf("no usable model provider: %v / %v", openaiErr, anthropicErr)
		}
		if anthropicErr == nil {
			return llm.NewFallbackClient(openaiClient, anthropicClient), nil
		}
		return openaiClient, nil
	}
}
