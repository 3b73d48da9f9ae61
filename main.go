// Package main provides the entry point for the danmu-tts server: a TTS
// orchestration service for live-stream danmaku, fronting multiple synthesis
// backends behind one HTTP/websocket API with an audio cache.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yomikawa/danmu-tts/internal/cache"
	"github.com/yomikawa/danmu-tts/internal/config"
	"github.com/yomikawa/danmu-tts/internal/server"
	"github.com/yomikawa/danmu-tts/internal/tts"
	"github.com/yomikawa/danmu-tts/internal/tts/backends"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	host       string
	port       int
	logLevel   string

	rootCmd = &cobra.Command{
		Use:          "danmu-tts",
		Short:        "TTS server for live-stream danmaku",
		Long:         "\nRead danmaku aloud: a multi-backend text-to-speech server with caching,\nquality-based backend routing, and HTTP/websocket APIs.",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
	}
)

func serve(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// CLI flags win over file and environment.
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = host
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = port
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}

	logger, err := setupLogger(cfg.Log)
	if err != nil {
		return err
	}
	logger.Info("starting danmu-tts", "version", rootCmd.Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cacheCfg, err := cfg.Cache.ToCacheConfig()
	if err != nil {
		return err
	}
	store, err := cache.New(ctx, cacheCfg, logger.WithPrefix("cache"))
	if err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}

	registry, err := tts.NewRegistry(ctx, buildBackends(cfg), logger.WithPrefix("tts"))
	if err != nil {
		store.Close()
		return err
	}

	manager := tts.NewManager(tts.ManagerConfig{
		PrimaryBackend:    cfg.TTS.PrimaryBackend,
		FallbackBackends:  cfg.TTS.FallbackBackends,
		QualityHigh:       cfg.TTS.QualityHigh,
		QualityLow:        cfg.TTS.QualityLow,
		MaxTextLength:     cfg.TTS.MaxTextLength,
		ChunkSize:         cfg.TTS.ChunkSize,
		DefaultFormat:     cfg.TTS.DefaultFormat,
		DefaultSampleRate: cfg.TTS.DefaultSampleRate,
		CacheEnabled:      cfg.Cache.Enabled,
	}, registry, store, logger.WithPrefix("tts"))
	defer func() {
		if err := manager.Shutdown(); err != nil {
			logger.Error("shutdown", "err", err)
		}
	}()

	srv := server.New(cfg.Server, manager, logger.WithPrefix("http"))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		return srv.Shutdown(context.Background())
	}
}

// buildBackends constructs every enabled backend. Construction is cheap;
// connectivity probes happen in Registry initialization.
func buildBackends(cfg config.Config) []tts.Backend {
	var candidates []tts.Backend
	for _, name := range cfg.EnabledBackends() {
		switch name {
		case "edge":
			candidates = append(candidates, backends.NewEdge(backends.EdgeConfig{
				DefaultVoice: cfg.Backends.Edge.Voice,
				Rate:         cfg.Backends.Edge.Rate,
				Volume:       cfg.Backends.Edge.Volume,
				Pitch:        cfg.Backends.Edge.Pitch,
				Timeout:      cfg.Backends.Edge.Timeout,
			}))
		case "piper":
			candidates = append(candidates, backends.NewPiper(backends.PiperConfig{
				BinaryPath:   cfg.Backends.Piper.Binary,
				ModelDir:     cfg.Backends.Piper.ModelDir,
				DefaultVoice: cfg.Backends.Piper.Voice,
				Timeout:      cfg.Backends.Piper.Timeout,
			}))
		case "xtts":
			candidates = append(candidates, backends.NewXTTS(backends.XTTSConfig{
				BaseURL:        cfg.Backends.XTTS.URL,
				DefaultSpeaker: cfg.Backends.XTTS.Speaker,
				Language:       cfg.Backends.XTTS.Language,
				Timeout:        cfg.Backends.XTTS.Timeout,
			}))
		case "openai":
			candidates = append(candidates, backends.NewOpenAI(backends.OpenAIConfig{
				APIKey:       cfg.Backends.OpenAI.APIKey,
				BaseURL:      cfg.Backends.OpenAI.BaseURL,
				Model:        cfg.Backends.OpenAI.Model,
				DefaultVoice: cfg.Backends.OpenAI.Voice,
				Speed:        cfg.Backends.OpenAI.Speed,
				Timeout:      cfg.Backends.OpenAI.Timeout,
			}))
		case "mock":
			candidates = append(candidates, backends.NewMock(backends.MockConfig{
				GenerationDelay: cfg.Backends.Mock.GenerationDelay,
				FailureRate:     cfg.Backends.Mock.FailureRate,
			}))
		}
	}
	return candidates
}

func setupLogger(cfg config.LogConfig) (*log.Logger, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		Level:           level,
		ReportTimestamp: true,
	})
	if strings.EqualFold(cfg.Format, "json") {
		logger.SetFormatter(log.JSONFormatter)
	}
	return logger, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.RunE = serve
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.Flags().StringVar(&host, "host", "0.0.0.0", "listen address")
	rootCmd.Flags().IntVar(&port, "port", 8080, "listen port")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	config.SetDefaults()

	rootCmd.AddCommand(configCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "danmu-tts")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "danmu-tts")}, dirs...)
	}

	if c := os.Getenv("DANMU_TTS_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("danmu-tts")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("danmu_tts")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", used)
		return
	}

	configFile = filepath.Join(dirs[0], "danmu-tts.yml")
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
