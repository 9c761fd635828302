package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"segclip/internal/api"
	"segclip/internal/config"
	"segclip/internal/device"
	"segclip/internal/logger"
)

var (
	serveListen string
	serveSource string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve one clip on a realtime virtual device over HTTP",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "HTTP listen address; overrides the config")
	serveCmd.Flags().StringVarP(&serveSource, "source", "s", "", "Clip to load at startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.ListenAddr = serveListen
	}
	log := logger.NewLogger(cfg.LogLevel)
	log.Infof("Starting segclip server...")
	log.Infof("Log level set to: %s", cfg.LogLevel)

	e := newEnv(cfg, log)
	defer e.Close()

	dev := device.NewRealtime(cfg.SampleRate)
	c, err := e.newClip(dev, device.NewTicker(dev, cfg.TickInterval, cfg.Lookahead))
	if err != nil {
		return err
	}
	defer c.Destroy()

	if serveSource != "" {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.LoadTimeout)
		err := c.SetSource(ctx, serveSource)
		cancel()
		if err != nil {
			return err
		}
	}

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.New(c, dev, logger.Component(log, "api"), e.registry),
	}
	return listenAndShutdown(server, cfg, log)
}

func listenAndShutdown(server *http.Server, cfg *config.Config, log logger.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("Server starting on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		log.Errorf("Could not listen on %s: %v", cfg.ListenAddr, err)
		return err
	}
	log.Infof("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
		return err
	}
	log.Infof("Server exiting")
	return nil
}
