package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KafClaw/soulbot/internal/agent"
	"github.com/KafClaw/soulbot/internal/bus"
	"github.com/KafClaw/soulbot/internal/channels"
	"github.com/KafClaw/soulbot/internal/config"
	"github.com/KafClaw/soulbot/internal/events"
	"github.com/KafClaw/soulbot/internal/lifecycle"
	"github.com/KafClaw/soulbot/internal/memory"
	"github.com/KafClaw/soulbot/internal/monitor"
	"github.com/KafClaw/soulbot/internal/plan"
	"github.com/KafClaw/soulbot/internal/scheduler"
	"github.com/KafClaw/soulbot/internal/skills"
	"github.com/KafClaw/soulbot/internal/specialists"
	"github.com/KafClaw/soulbot/internal/timeline"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the chat gateway (Discord, Slack, scheduler, skills watcher)",
	Run:   runGateway,
}

var gatewaySignalNotify = signal.Notify
var gatewaySignalStop = signal.Stop

type originKey struct{}

// withOrigin records the inbound message a turn is answering, so background
// results can be delivered back to the same chat.
func withOrigin(ctx context.Context, msg *bus.InboundMessage) context.Context {
	return context.WithValue(ctx, originKey{}, msg)
}

func originFrom(ctx context.Context) *bus.InboundMessage {
	msg, _ := ctx.Value(originKey{}).(*bus.InboundMessage)
	return msg
}

// eventReporter forwards plan progress to the chat and to the event stream.
type eventReporter struct {
	chat      *channels.ProgressReporter
	events    *events.Publisher
	sessionID string
}

func (r *eventReporter) Report(ctx context.Context, message string) error {
	r.events.Publish(ctx, events.TypePlanProgress, r.sessionID, map[string]any{"message": message})
	return r.chat.Report(ctx, message)
}

func (r *eventReporter) Complete(ctx context.Context, summary string) error {
	r.events.Publish(ctx, events.TypePlanProgress, r.sessionID, map[string]any{"message": summary, "final": true})
	return r.chat.Complete(ctx, summary)
}

var _ plan.Completer = (*eventReporter)(nil)

// jobRecorder stores job runs in the message log and mirrors them to the
// event stream.
type jobRecorder struct {
	timeline *timeline.TimelineService
	events   *events.Publisher
}

func (r jobRecorder) RecordJobRun(name, status string, startedAt time.Time, duration time.Duration, errText string) error {
	r.events.Publish(context.Background(), events.TypeJobRun, "", map[string]any{
		"job":         name,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
		"error":       errText,
	})
	return r.timeline.RecordJobRun(name, status, startedAt, duration, errText)
}

func scheduleDefaults(cfg config.SchedulerConfig) scheduler.Schedule {
	var s scheduler.Schedule
	s.Briefing.Time = cfg.BriefingTime
	s.Briefing.Timezone = cfg.Timezone
	s.CompactionCheckHours = cfg.CompactionHours
	s.MemoryReviewDay = cfg.MemoryReviewDay
	s.HeartbeatMinutes = cfg.HeartbeatMinutes
	return s
}

func runGateway(cmd *cobra.Command, args []string) {
	printHeader("🌐 soulbot gateway")

	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := config.EnsureDirs(cfg); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	// 2. Message log and bus
	timeSvc, err := timeline.NewTimelineService(cfg.Paths.MessageDBPath())
	if err != nil {
		fmt.Printf("Error opening message log: %v\n", err)
		os.Exit(1)
	}
	msgBus := bus.NewMessageBus()

	// 3. Channels
	ignored, err := channels.LoadIgnoredChannels(cfg.Paths.ChannelsFile(), cfg.Channels.Discord.IgnoredChannels)
	if err != nil {
		slog.Warn("Failed to load channel settings, using defaults", "error", err)
	}
	filter := channels.NewFilter(ignored)

	var active []channels.Channel
	var discord *channels.DiscordChannel
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		discord = channels.NewDiscordChannel(cfg.Channels.Discord, msgBus, timeSvc, filter)
		active = append(active, discord)
	}
	if cfg.Channels.Slack.Enabled && cfg.Channels.Slack.BotToken != "" {
		active = append(active, channels.NewSlackChannel(cfg.Channels.Slack, msgBus, timeSvc, filter))
	}
	if len(active) == 0 {
		fmt.Println("Error: no channel configured (set DISCORD_TOKEN or enable Slack)")
		os.Exit(1)
	}

	// 4. Monitoring and events
	var notifier monitor.Notifier
	if discord != nil {
		notifier = discord
	}
	mon := monitor.New(notifier, cfg.Channels.Discord.MonitoringChannelID)
	pub := events.NewPublisher(cfg.Events)

	// 5. Runtime
	rt, err := buildRuntime(cfg, runtimeHooks{
		OnSubagentComplete: func(ctx context.Context, task *agent.SubagentTask, specialist, result string) error {
			mon.PostSubagentComplete(ctx, specialist, result)
			pub.Publish(ctx, events.TypeSubagentComplete, agent.SessionIDFrom(ctx), map[string]any{
				"task_id":    task.ID,
				"specialist": specialist,
				"depth":      task.Depth,
			})
			if origin := originFrom(ctx); origin != nil {
				msgBus.PublishOutbound(&bus.OutboundMessage{
					Channel: origin.Channel,
					ChatID:  origin.ChatID,
					Content: fmt.Sprintf("**%s finished:**\n%s", specialist, result),
				})
			}
			return nil
		},
		OnCompaction: func(ctx context.Context, sessionID string, before, after int) {
			mon.PostCompaction(ctx, sessionID)
		},
		OnSafetyRule:   mon.PostSafetyRule,
		OnSoulProposal: mon.PostSoulProposal,
		TurnContext: func(ctx context.Context, msg *bus.InboundMessage) context.Context {
			ctx = withOrigin(ctx, msg)
			return specialists.WithReporter(ctx, &eventReporter{
				chat:      channels.NewProgressReporter(msgBus, msg.Channel, msg.ChatID),
				events:    pub,
				sessionID: msg.SessionID,
			})
		},
		ToolObserver: func(ctx context.Context, name string, params map[string]any) error {
			return pub.Publish(ctx, events.TypeToolCall, agent.SessionIDFrom(ctx), map[string]any{"tool": name})
		},
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	heartbeat := scheduler.NewHeartbeat(rt.provider, mon, cfg.Paths.HeartbeatPath())

	// 6. Scheduler
	sched, err := scheduler.LoadSchedule(cfg.Paths.ScheduleFile(), scheduleDefaults(cfg.Scheduler))
	if err != nil {
		slog.Warn("Failed to load schedule, using defaults", "error", err)
	}
	schedCfg := scheduler.DefaultConfig(cfg.Paths.Home)
	if loc, err := sched.Location(); err == nil {
		schedCfg.Location = loc
	} else {
		slog.Warn("Unknown timezone, using local time", "timezone", sched.Briefing.Timezone, "error", err)
	}
	jobs := scheduler.New(schedCfg, jobRecorder{timeline: timeSvc, events: pub})
	if cfg.Scheduler.Enabled {
		err := scheduler.RegisterDefaults(jobs, sched, scheduler.DefaultJobFuncs{
			Briefing: func(ctx context.Context) error {
				digest, err := rt.dispatcher.Run(ctx, specialists.BriefingName, cfg.Scheduler.BriefingTopics)
				if err != nil {
					return err
				}
				if cfg.Scheduler.BriefingChannelID == "" || discord == nil {
					mon.Post(ctx, digest)
					return nil
				}
				msgBus.PublishOutbound(&bus.OutboundMessage{Channel: discord.Name(), ChatID: cfg.Scheduler.BriefingChannelID, Content: digest})
				return nil
			},
			Compaction: func(ctx context.Context) error {
				n := rt.agent.CompactAll(ctx)
				slog.Info("Compaction sweep finished", "compacted", n)
				return nil
			},
			Review: func(ctx context.Context) error {
				review, err := memory.SelfReview(ctx, rt.provider, rt.memory)
				if err != nil {
					return err
				}
				mon.Post(ctx, "🧠 **Weekly memory review**\n"+review)
				return nil
			},
			Heartbeat: heartbeat.Run,
		})
		if err != nil {
			fmt.Printf("Error registering jobs: %v\n", err)
			os.Exit(1)
		}
	}

	// 7. Start Everything
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	gatewaySignalNotify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer gatewaySignalStop(sigChan)

	shutdown := lifecycle.New()
	shutdown.Register("message log", func(context.Context) error { return timeSvc.Close() })
	shutdown.Register("event stream", func(context.Context) error { return pub.Close() })

	go func() {
		if err := msgBus.DispatchOutbound(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Outbound dispatcher stopped", "error", err)
		}
	}()

	for _, ch := range active {
		if err := ch.Start(ctx); err != nil {
			fmt.Printf("Failed to start %s: %v\n", ch.Name(), err)
			os.Exit(1)
		}
		shutdown.Register(ch.Name(), func(context.Context) error { return ch.Stop() })
	}
	shutdown.Register("sub-agents", rt.subagents.Wait)

	if cfg.Scheduler.Enabled {
		if err := jobs.Start(ctx); err != nil {
			slog.Error("Scheduler failed to start", "error", err)
		} else {
			shutdown.Register("scheduler", func(context.Context) error { jobs.Stop(); return nil })
		}
	}

	if cfg.Skills.Watch {
		watcher := skills.NewWatcher(rt.skills, 0, func(n int) {
			slog.Info("Skills reloaded", "count", n)
		})
		if err := watcher.Start(ctx); err != nil {
			slog.Warn("Skill watcher unavailable", "error", err)
		} else {
			shutdown.Register("skill watcher", func(context.Context) error { return watcher.Close() })
		}
	}

	if ttl := cfg.Agent.SessionIdleTTL; ttl > 0 {
		go evictIdleSessions(ctx, rt.agent, ttl)
	}

	render := func(msg *bus.InboundMessage, reply string, err error) string {
		if err != nil {
			heartbeat.RecordError(fmt.Sprintf("%s/%s: %v", msg.Channel, msg.ChatID, err))
			mon.PostError(ctx, fmt.Sprintf("Turn failed in `%s`: %v", msg.SessionID, err))
		}
		return agent.DefaultReplyRenderer(msg, reply, err)
	}
	go func() {
		if err := rt.agent.Run(ctx, msgBus, render); err != nil {
			slog.Error("Agent loop stopped", "error", err)
		}
	}()

	mon.PostStartup(ctx)
	pub.Publish(ctx, events.TypeLifecycle, "", map[string]any{"state": "started", "version": version})
	shutdown.Register("monitor", func(ctx context.Context) error {
		mon.PostShutdown(ctx)
		pub.Publish(ctx, events.TypeLifecycle, "", map[string]any{"state": "stopping"})
		return nil
	})

	fmt.Printf("Gateway running with %d channel(s). Press Ctrl+C to stop.\n", len(active))

	sig := <-sigChan
	slog.Info("Shutting down", "signal", sig.String())
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	shutdown.Run(stopCtx, sig)
}

// evictIdleSessions drops sessions idle for longer than ttl.
func evictIdleSessions(ctx context.Context, a *agent.Agent, ttl time.Duration) {
	interval := max(ttl/2, time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := a.Sessions().EvictIdle(ttl); len(evicted) > 0 {
				slog.Info("Evicted idle sessions", "count", len(evicted))
			}
		}
	}
}
