package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loomhq/loom/internal/agentapi"
	"github.com/loomhq/loom/internal/artifact"
	"github.com/loomhq/loom/internal/checkpoint"
	"github.com/loomhq/loom/internal/collab"
	"github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/engine"
	"github.com/loomhq/loom/internal/pipeline"
	"github.com/loomhq/loom/internal/resilience"
	"github.com/loomhq/loom/internal/review"
	"github.com/loomhq/loom/internal/signal"
	"github.com/loomhq/loom/internal/stream"
	"github.com/loomhq/loom/pkg/models"
)

// runtime bundles the wired engine with everything that needs closing when
// the command finishes.
type runtime struct {
	engine  *engine.Engine
	emitter *engine.EventEmitter
	signals *signal.Manager

	checkpoints checkpoint.Store
	streamDB    *stream.SQLiteBackend
	debugLog    *engine.DebugLogger
}

// Close releases the runtime's persistent resources.
func (r *runtime) Close() {
	if r.signals != nil {
		r.signals.Close()
	}
	r.debugLog.Close()
	if r.streamDB != nil {
		r.streamDB.Close()
	}
	if r.checkpoints != nil {
		r.checkpoints.Close()
	}
}

// buildRuntime wires every collaborator from the resolved configuration.
func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	client, err := agentapi.NewClient(ctx, agentapi.ClientConfig{
		APIKey:        cfg.Anthropic.APIKey,
		UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
		MaxTokens:     int64(cfg.Anthropic.MaxTokens),
	})
	if err != nil {
		return nil, fmt.Errorf("creating API client: %w", err)
	}

	var moderation collab.ModerationChecker
	if cfg.Moderation.Enabled {
		moderation = agentapi.NewModeration(client)
	}
	blockSeverity := collab.ParseSeverity(cfg.Moderation.BlockSeverity)
	if blockSeverity == collab.SeverityNone {
		blockSeverity = collab.SeverityHigh
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}

	policies, err := config.LoadTierPolicies(filepath.Join(cwd, "configs"))
	if err != nil {
		return nil, fmt.Errorf("loading tier policies: %w", err)
	}
	overrides := make(map[models.Tier]agentapi.TierOverride)
	tierTimeouts := make(map[models.Tier]time.Duration)
	forceReview := make(map[models.Tier]bool)
	for _, tier := range []models.Tier{models.TierScout, models.TierBuilder, models.TierArchitect} {
		policy := policies.Get(tier)
		if policy == nil {
			continue
		}
		overrides[tier] = agentapi.TierOverride{
			Model:     policy.Model,
			MaxTokens: int64(policy.MaxTokens),
		}
		if policy.Timeout > 0 {
			tierTimeouts[tier] = policy.Timeout
		}
		if policy.ReviewRequired {
			forceReview[tier] = true
		}
	}

	gate := review.NewGate(review.Config{
		Enabled:             cfg.Review.Enabled,
		ConfidenceThreshold: cfg.Review.ConfidenceThreshold,
		ForceReviewTiers:    forceReview,
	}, agentapi.NewReviewer(client))

	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Name:             "agent",
		FailureThreshold: uint32(cfg.Resilience.FailureThreshold),
		RecoveryTimeout:  cfg.Resilience.RecoveryTimeout,
	})
	retry := resilience.DefaultRetryPolicy()
	if cfg.Resilience.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.Resilience.MaxAttempts
	}
	if cfg.Resilience.InitialInterval > 0 {
		retry.InitialInterval = cfg.Resilience.InitialInterval
	}
	if cfg.Resilience.MaxInterval > 0 {
		retry.MaxInterval = cfg.Resilience.MaxInterval
	}

	emitter := engine.NewEventEmitter(256)

	pipe := pipeline.NewPipeline(
		pipeline.Deps{
			Executor:   agentapi.NewExecutor(client, agentapi.WithTierOverrides(overrides)),
			Moderation: moderation,
			Validator:  agentapi.NewValidator(client),
			Gate:       gate,
		},
		pipeline.WithBreaker(breaker),
		pipeline.WithTimeoutCalculator(resilience.NewTimeoutCalculatorWithCeiling(cfg.Resilience.TimeoutCeiling)),
		pipeline.WithConfig(pipeline.Config{
			Retry:             retry,
			BlockSeverity:     blockSeverity,
			HeartbeatInterval: cfg.Engine.HeartbeatInterval,
		}),
		pipeline.WithTierTimeouts(tierTimeouts),
		pipeline.WithHeartbeat(func(hb pipeline.Heartbeat) {
			emitter.Emit(engine.Event{
				Type:    engine.EventTaskHeartbeat,
				TaskID:  hb.TaskID,
				Message: string(hb.Step),
			})
		}),
	)

	checkpoints, err := checkpoint.OpenSQLite(cfg.CheckpointDBPath())
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint store: %w", err)
	}

	streamDB, err := stream.OpenSQLite(streamDBPath(cfg))
	if err != nil {
		checkpoints.Close()
		return nil, fmt.Errorf("opening stream backend: %w", err)
	}

	signals, err := signal.NewManager(cwd)
	if err != nil {
		streamDB.Close()
		checkpoints.Close()
		return nil, fmt.Errorf("creating signal manager: %w", err)
	}

	assembler := artifact.NewAssembler(filepath.Join(cwd, ".loom", "artifacts"))

	debugLog := engine.NewDebugLoggerForDir(cwd)

	eng, err := engine.New(
		engine.RequiredConfig{
			Decomposer:  agentapi.NewDecomposer(client),
			Pipeline:    pipe,
			Checkpoints: checkpoints,
		},
		engine.WithModeration(moderation),
		engine.WithAssembler(assembler),
		engine.WithPublisher(artifact.NewGitPublisher(assembler)),
		engine.WithStreamer(stream.NewStreamer(streamDB)),
		engine.WithSignalManager(signals),
		engine.WithEmitter(emitter),
		engine.WithMaxBatchSize(cfg.Engine.MaxBatchSize),
		engine.WithProceedOnFailedDependency(cfg.Engine.ProceedOnFailedDependency),
		engine.WithCheckpointTTL(cfg.Checkpoint.TTL),
		engine.WithBlockSeverity(blockSeverity),
		engine.WithDebugLogger(debugLog),
	)
	if err != nil {
		debugLog.Close()
		signals.Close()
		streamDB.Close()
		checkpoints.Close()
		return nil, err
	}

	return &runtime{
		engine:      eng,
		emitter:     emitter,
		signals:     signals,
		checkpoints: checkpoints,
		streamDB:    streamDB,
		debugLog:    debugLog,
	}, nil
}

// streamDBPath places the progress stream next to the checkpoint database.
func streamDBPath(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.CheckpointDBPath()), "stream.db")
}
