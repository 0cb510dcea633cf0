package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relaygate/relaygate/internal/approval"
	"github.com/relaygate/relaygate/internal/auth"
	"github.com/relaygate/relaygate/internal/compaction"
	"github.com/relaygate/relaygate/internal/config"
	"github.com/relaygate/relaygate/internal/cron"
	"github.com/relaygate/relaygate/internal/gateway"
	"github.com/relaygate/relaygate/internal/nodes"
	"github.com/relaygate/relaygate/internal/orchestrator"
	"github.com/relaygate/relaygate/internal/process"
	"github.com/relaygate/relaygate/internal/providers"
	"github.com/relaygate/relaygate/internal/quota"
	"github.com/relaygate/relaygate/internal/sessions"
)

// buildServeCmd creates the "serve" command that starts the gateway.
func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relaygate HTTP/WS gateway",
		Long: `Start the relaygate gateway with its turn orchestrator, node router,
session substrate, scheduler, and process manager.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to TOML configuration file (default relaygate.toml or $SA_CONFIG)")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	log := zap.L().Sugar()
	log.Infow("starting relaygate gateway", "version", version, "commit", commit, "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	deps, cleanup, err := buildDeps(cfg, log)
	if err != nil {
		return fmt.Errorf("build gateway dependencies: %w", err)
	}
	defer cleanup()

	server := gateway.New(*deps)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if deps.Runner != nil {
		go deps.Runner.Start(ctx)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	log.Infow("relaygate gateway started", "addr", addr)
	return server.Run(ctx, addr)
}

// buildDeps constructs every component gateway.Server needs from cfg. The
// returned cleanup func flushes on-disk stores and must be deferred by the
// caller.
func buildDeps(cfg *config.Config, log *zap.SugaredLogger) (*gateway.Deps, func(), error) {
	sessionStore, err := sessions.NewStore(cfg.Server.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("sessions store: %w", err)
	}
	transcripts := sessions.NewTranscriptStore(cfg.Server.DataDir)
	transcriptIndex := sessions.NewTranscriptIndex()
	identity := sessions.NewIdentityResolver(cfg.Session.IdentityLinks)
	expiry := sessions.NewSessionExpiry(sessions.ScopeConfig{
		Reset: sessions.ResetConfig{
			Mode:        cfg.Session.Reset.Mode,
			AtHour:      cfg.Session.Reset.AtHour,
			IdleMinutes: cfg.Session.Reset.IdleMinutes,
		},
	})

	registry, err := buildProviderRegistry(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	router := providers.NewRouter(registry, 120*time.Second, log)

	nodeStore := nodes.NewMemoryStore()
	aliases := nodes.NewAliasTable(nil)
	nodeRouter := nodes.NewRouter(nodeStore, aliases, 30*time.Second, log)
	nodeAuth := auth.NewNodeAuthenticator(cfg.Nodes.PerNodeToken, cfg.Nodes.SharedToken)
	pairing := auth.NewPairingIssuer(cfg.Nodes.SharedToken, cfg.Nodes.PairingTTL)
	nodeWS := nodes.NewWSServer(nodeRouter, nodeAuth, pairing, version, log)

	processes := process.NewManager()
	approvals := approval.NewStore(cfg.Approval.Timeout)
	approvalPolicy := approval.Policy{
		Denylist:        cfg.Approval.Denylist,
		RequireApproval: cfg.Approval.RequireApproval,
		Allowlist:       cfg.Approval.Allowlist,
		Timeout:         cfg.Approval.Timeout,
	}
	quotaTracker := quota.New(buildQuotaConfig(cfg))
	compactionMgr := compaction.NewManager(compaction.Config{
		MaxTurns:       cfg.Pruning.MaxTurns,
		KeepLastTurns:  cfg.Pruning.KeepLastTurns,
		SummarizerRole: "summarizer",
	})

	turn := gateway.BuildTurn(orchestrator.Config{
		Registry:     registry,
		ExecutorRole: cfg.LLM.ExecutorRole,
		Transcripts:  transcripts,
		SessionStore: sessionStore,
		Router:       nodeRouter,
		NodeTimeout:  30 * time.Second,
		Pruning: orchestrator.PruningConfig{
			SoftRatio:   0.7,
			HardRatio:   0.9,
			HardEnabled: true,
		},
		ContextWindow: cfg.Pruning.ContextWindow,
	}, processes, nodeRouter, nodeStore, approvals, approvalPolicy)
	runs := orchestrator.NewRunStore(500)
	locks := orchestrator.NewSessionLocks()

	var schedules *cron.ScheduleStore
	var deliveries *cron.DeliveryStore
	var runner *cron.ScheduleRunner
	if cfg.Tasks.Enabled {
		schedules, err = cron.NewScheduleStore(cfg.Server.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("schedule store: %w", err)
		}
		deliveries = cron.NewDeliveryStore()
		runner = cron.NewScheduleRunner(schedules, deliveries, turn, runs,
			cron.WithLogger(log),
			cron.WithTickInterval(cfg.Tasks.TickInterval),
		)
	}

	deps := &gateway.Deps{
		Logger:           log,
		Sessions:         sessionStore,
		Transcripts:      transcripts,
		TranscriptIndex:  transcriptIndex,
		Identity:         identity,
		Expiry:           expiry,
		ProviderRegistry: registry,
		ProviderRouter:   router,
		NodeRouter:       nodeRouter,
		NodeStore:        nodeStore,
		NodeWS:           nodeWS,
		Pairing:          pairing,
		Turn:             turn,
		Runs:             runs,
		Locks:            locks,
		Processes:        processes,
		Approvals:        approvals,
		ApprovalPolicy:   approvalPolicy,
		Quota:            quotaTracker,
		Compaction:       compactionMgr,
		Schedules:        schedules,
		Deliveries:       deliveries,
		Runner:           runner,
		ClientAuth:       auth.NewBearerAuthenticator(cfg.Auth.APIToken),
		AdminAuth:        auth.NewBearerAuthenticator(cfg.Auth.AdminToken),
		DefaultAgentID:   cfg.Session.DefaultAgentID,
	}

	cleanup := func() {
		if schedules != nil {
			schedules.Close()
		}
	}
	return deps, cleanup, nil
}

func buildQuotaConfig(cfg *config.Config) quota.Config {
	perAgent := make(map[string]quota.AgentQuota, len(cfg.Quota.PerAgent))
	for id, q := range cfg.Quota.PerAgent {
		perAgent[id] = quota.AgentQuota{DailyTokens: q.DailyTokens, DailyCostUSD: q.DailyCostUSD}
	}
	return quota.Config{
		DefaultDailyTokens:  cfg.Quota.DefaultDailyTokens,
		DefaultDailyCostUSD: cfg.Quota.DefaultDailyCostUSD,
		PerAgent:            perAgent,
	}
}

// buildProviderRegistry constructs every configured LLM provider, tolerating
// partial failure the way providers.BuildRegistry does, then layers the
// configured role table on top.
func buildProviderRegistry(cfg *config.Config, log *zap.SugaredLogger) (*providers.Registry, error) {
	var specs []providers.ProviderSpec

	if cfg.LLM.Anthropic != nil && cfg.LLM.Anthropic.APIKey != "" {
		pc := *cfg.LLM.Anthropic
		specs = append(specs, providers.ProviderSpec{
			ID: "anthropic",
			Build: func() (providers.Provider, error) {
				return providers.NewAnthropicProvider(providers.AnthropicConfig{
					APIKey: pc.APIKey, BaseURL: pc.BaseURL, DefaultModel: pc.DefaultModel,
				})
			},
		})
	}
	if cfg.LLM.OpenAI != nil && cfg.LLM.OpenAI.APIKey != "" {
		pc := *cfg.LLM.OpenAI
		specs = append(specs, providers.ProviderSpec{
			ID: "openai",
			Build: func() (providers.Provider, error) {
				return providers.NewOpenAIProvider(providers.OpenAIConfig{
					APIKey: pc.APIKey, BaseURL: pc.BaseURL, DefaultModel: pc.DefaultModel,
				})
			},
		})
	}
	if cfg.LLM.Gemini != nil && cfg.LLM.Gemini.APIKey != "" {
		pc := *cfg.LLM.Gemini
		specs = append(specs, providers.ProviderSpec{
			ID: "gemini",
			Build: func() (providers.Provider, error) {
				return providers.NewGeminiProvider(context.Background(), providers.GeminiConfig{
					APIKey: pc.APIKey, DefaultModel: pc.DefaultModel,
				})
			},
		})
	}
	if cfg.LLM.Bedrock != nil && cfg.LLM.Bedrock.AccessKeyID != "" {
		bc := *cfg.LLM.Bedrock
		specs = append(specs, providers.ProviderSpec{
			ID: "bedrock",
			Build: func() (providers.Provider, error) {
				return providers.NewBedrockProvider(context.Background(), providers.BedrockConfig{
					Region: bc.Region, AccessKeyID: bc.AccessKeyID,
					SecretAccessKey: bc.SecretAccessKey, SessionToken: bc.SessionToken,
					DefaultModel: bc.DefaultModel,
				})
			},
		})
	}

	roles := make(map[string]providers.RoleConfig, len(cfg.LLM.Roles))
	for name, entry := range cfg.LLM.Roles {
		fallbacks := make([]providers.FallbackConfig, 0, len(entry.Fallbacks))
		for _, m := range entry.Fallbacks {
			fallbacks = append(fallbacks, providers.FallbackConfig{Model: m})
		}
		roles[name] = providers.RoleConfig{
			Model:            entry.Model,
			RequireTools:     entry.RequireTools,
			RequireJSON:      entry.RequireJSON,
			RequireStreaming: entry.RequireStreaming,
			Fallbacks:        fallbacks,
		}
	}

	return providers.BuildRegistry(specs, roles, cfg.Server.RequireLLM, log)
}
