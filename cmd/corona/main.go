// Command corona is the entry point for the corona runtime: it loads
// configuration, wires every port adapter to its concrete provider, and runs
// the core until an interrupt or termination signal arrives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nyxveil/corona/internal/adapters/contextpg"
	"github.com/nyxveil/corona/internal/adapters/discordvoice"
	"github.com/nyxveil/corona/internal/adapters/llmservice"
	"github.com/nyxveil/corona/internal/adapters/mcpservice"
	"github.com/nyxveil/corona/internal/adapters/ttsopenai"
	"github.com/nyxveil/corona/internal/adapters/whisperstt"
	"github.com/nyxveil/corona/internal/adapters/wsdashboard"
	"github.com/nyxveil/corona/internal/config"
	"github.com/nyxveil/corona/internal/core"
	"github.com/nyxveil/corona/internal/health"
	"github.com/nyxveil/corona/internal/mcp"
	"github.com/nyxveil/corona/internal/mcp/mcphost"
	"github.com/nyxveil/corona/internal/mcp/tier"
	"github.com/nyxveil/corona/internal/observe"
	"github.com/nyxveil/corona/internal/resilience"
	"github.com/nyxveil/corona/pkg/audio/discord"
	oaillm "github.com/nyxveil/corona/pkg/provider/llm/openai"
	oaitts "github.com/nyxveil/corona/pkg/provider/tts/openai"
	"github.com/nyxveil/corona/pkg/provider/stt"
	"github.com/nyxveil/corona/pkg/provider/stt/whisper"
	"github.com/nyxveil/corona/pkg/provider/tts"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "corona: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "corona: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("corona starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: "dev"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	w, err := buildWiring(ctx, cfg)
	if err != nil {
		slog.Error("failed to build provider wiring", "err", err)
		return 1
	}
	defer w.Close()

	c, err := core.New(cfg, core.Ports{
		Emotion:    w.emotion,
		Voice:      w.voice,
		Recognizer: w.recognizer,
		Context:    w.context,
		Service:    w.service,
	})
	if err != nil {
		slog.Error("failed to construct core", "err", err)
		return 1
	}

	w.discordVoice.FeedInputStreams(ctx, w.recognizer.SendAudio)

	go serveHTTP(ctx, cfg.Server.ListenAddr, c, w, metrics)

	slog.Info("core ready — press Ctrl+C to shut down")
	c.Run(ctx)

	slog.Info("shutdown signal received, stopping…")
	c.Stop()
	slog.Info("goodbye")
	return 0
}

// serveHTTP mounts the live dashboard, health/readiness probes, and a
// Prometheus /metrics endpoint on a single listener, all instrumented by
// [observe.Middleware]. It blocks until ctx is cancelled.
func serveHTTP(ctx context.Context, addr string, c *core.Core, w *wiring, metrics *observe.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/", wsdashboard.New(c.Bus()))
	mux.Handle("/metrics", promhttp.Handler())
	health.New(
		health.Checker{Name: "context_store", Check: w.context.Ping},
	).Register(mux)

	srv := &http.Server{Addr: addr, Handler: observe.Middleware(metrics)(mux)}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown", "err", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
		}
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────

// wiring holds every concrete adapter the core is built from, plus whatever
// needs an explicit Close at shutdown.
type wiring struct {
	emotion      *discordvoice.Service
	voice        *ttsopenai.Service
	recognizer   *whisperstt.Recognizer
	context      *contextpg.Store
	service      *mcpservice.Service
	discordVoice *discordvoice.Service

	mcpHost mcp.Host
}

func (w *wiring) Close() {
	if w.context != nil {
		w.context.Close()
	}
	if w.mcpHost != nil {
		if err := w.mcpHost.Close(); err != nil {
			slog.Warn("mcp host close", "err", err)
		}
	}
}

func buildWiring(ctx context.Context, cfg *config.Config) (*wiring, error) {
	llmProvider, err := oaillm.New(cfg.Providers.LLM.APIKey, cfg.Providers.LLM.Model, oaillm.WithBaseURL(cfg.Providers.LLM.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("build llm provider: %w", err)
	}
	llmSvc := llmservice.New(llmProvider, resilience.CircuitBreakerConfig{})

	sttProvider, err := buildSTTProvider(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("build stt provider: %w", err)
	}
	recognizer := whisperstt.New(sttProvider, stt.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
	}, nil)

	ttsProvider, err := oaitts.New(cfg.Providers.TTS.APIKey, cfg.Providers.TTS.Model, oaitts.WithBaseURL(cfg.Providers.TTS.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("build tts provider: %w", err)
	}

	session, guildID, channelID, err := buildDiscordSession(cfg.Providers.Audio)
	if err != nil {
		return nil, fmt.Errorf("build discord session: %w", err)
	}
	platform := discord.New(session, guildID)
	conn, err := platform.Connect(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("connect discord voice channel: %w", err)
	}

	discordVoice := discordvoice.New(session, conn)
	voice := ttsopenai.New(ttsProvider, tts.VoiceProfile{
		ID:          "alloy",
		Name:        "alloy",
		Provider:    "openai",
		SpeedFactor: 1.0,
	}, discordVoice)

	contextStore, err := contextpg.New(ctx, cfg.Memory.PostgresDSN, cfg.Memory.EmbeddingDimensions, 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("build context store: %w", err)
	}

	mcpHost := mcphost.New()
	for _, srv := range cfg.MCP.Servers {
		if err := mcpHost.RegisterServer(ctx, mcp.ServerConfig{
			Name:      srv.Name,
			Transport: string(srv.Transport),
			Command:   srv.Command,
			URL:       srv.URL,
			Env:       srv.Env,
		}); err != nil {
			return nil, fmt.Errorf("register mcp server %q: %w", srv.Name, err)
		}
	}
	selector := tier.NewSelector()
	service := mcpservice.New(mcpHost, selector, llmSvc)

	return &wiring{
		emotion:      discordVoice,
		voice:        voice,
		recognizer:   recognizer,
		context:      contextStore,
		service:      service,
		discordVoice: discordVoice,
		mcpHost:      mcpHost,
	}, nil
}

// buildSTTProvider selects the native whisper.cpp binding ("whisper-native",
// driven by options.model_path) or the whisper server client ("whisper",
// driven by base_url).
func buildSTTProvider(entry config.ProviderEntry) (stt.Provider, error) {
	if entry.Name == "whisper-native" {
		modelPath, _ := entry.Options["model_path"].(string)
		return whisper.NewNative(modelPath)
	}
	return whisper.New(entry.BaseURL)
}

// buildDiscordSession starts a discordgo session from the Audio provider
// entry's bot token and extracts the guild/channel to join from its options.
func buildDiscordSession(entry config.ProviderEntry) (session *discordgo.Session, guildID, channelID string, err error) {
	session, err = discordgo.New("Bot " + entry.APIKey)
	if err != nil {
		return nil, "", "", fmt.Errorf("create discord session: %w", err)
	}
	if err := session.Open(); err != nil {
		return nil, "", "", fmt.Errorf("open discord session: %w", err)
	}

	guildID, _ = entry.Options["guild_id"].(string)
	channelID, _ = entry.Options["channel_id"].(string)
	if guildID == "" || channelID == "" {
		return nil, "", "", fmt.Errorf("discord audio provider requires options.guild_id and options.channel_id")
	}
	return session, guildID, channelID, nil
}

// ── Logger ──────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
