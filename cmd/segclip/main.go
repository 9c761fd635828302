package main

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"segclip/internal/audio"
	"segclip/internal/bufferstore"
	"segclip/internal/clip"
	"segclip/internal/config"
	"segclip/internal/logger"
	"segclip/internal/metrics"
	"segclip/internal/source"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "segclip",
	Short: "Windowed segment-playback scheduler for timeline clips",
	Long: `segclip plays clips stored as a list of audio segments, loading only the
segments needed around the playhead. It can inspect a clip's metadata and tempo
grid, render a range offline, simulate scheduled playback, or serve a clip over
HTTP.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "L", "", "Log level (error, warn, info, debug); overrides the config")
	rootCmd.AddCommand(inspectCmd, renderCmd, playCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads --config, or the defaults when it is not set, and applies
// --log-level.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(configPath); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

// env holds what every command needs to build a clip.
type env struct {
	cfg      *config.Config
	log      logger.Logger
	reader   audio.FileReader
	redis    *source.RedisCache
	store    *bufferstore.Store
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

func newEnv(cfg *config.Config, log logger.Logger) *env {
	e := &env{
		cfg:      cfg,
		log:      log,
		registry: prometheus.NewRegistry(),
	}
	e.metrics = metrics.New(e.registry)

	remote := source.NewHTTP(logger.Component(log, "http"), cfg.UserAgent, cfg.HTTPRetries, cfg.HTTPTimeout)
	e.reader = source.Mux{Local: source.Local{}, Remote: remote}
	if cfg.Redis.Addr != "" {
		e.redis = source.NewRedisCache(source.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		}, e.reader, logger.Component(log, "redis"))
		e.reader = e.redis
	}

	e.store = bufferstore.New(e.reader, logger.Component(log, "store"), cfg.EvictionInterval)
	e.store.Start()
	return e
}

func (e *env) newClip(dev audio.Device, drv audio.Driver) (*clip.Clip, error) {
	return clip.New(clip.Options{
		Device:        dev,
		Driver:        drv,
		Store:         e.store,
		Reader:        e.reader,
		Resolver:      source.Resolver{Dir: e.cfg.WorkingDir},
		Logger:        e.log,
		Metrics:       e.metrics,
		PreloadMargin: e.cfg.PreloadMargin,
		LoadWorkers:   e.cfg.LoaderWorkers,
		LoadTimeout:   e.cfg.LoadTimeout,
	})
}

func (e *env) Close() {
	e.store.Stop()
	if e.redis != nil {
		e.redis.Close()
	}
}

// setup loads the config and builds an env logging to the console.
func setup() (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newEnv(cfg, logger.NewConsole(cfg.LogLevel)), nil
}
