// Command mcp-proxy starts the multi-server tool gateway. Backend
// servers come from the environment (GitHub, Brave Search, Google Maps
// when their tokens are set) and from an optional YAML config file.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Tomas1307/mcp-client-proxy/adapter"
	"github.com/Tomas1307/mcp-client-proxy/adapter/httprpc"
	"github.com/Tomas1307/mcp-client-proxy/adapter/stdio"
	"github.com/Tomas1307/mcp-client-proxy/config"
	"github.com/Tomas1307/mcp-client-proxy/gateway"
	"github.com/Tomas1307/mcp-client-proxy/registry"
)

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	configPath := flag.String("config", "servers.yaml", "YAML server config file")
	initTimeout := flag.Duration("init-timeout", 30*time.Second, "tool discovery deadline")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(*addr, *configPath, *initTimeout, logger); err != nil {
		logger.Fatal("gateway failed", zap.Error(err))
	}
}

func run(addr, configPath string, initTimeout time.Duration, logger *zap.Logger) error {
	loaders := append(config.EnvLoaders(), config.FileLoader(configPath))
	specs, err := config.Load(loaders...)
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		logger.Warn("no backend servers configured")
	}

	adapters := make([]adapter.Adapter, 0, len(specs))
	for _, spec := range specs {
		adapters = append(adapters, buildAdapter(spec, logger))
		logger.Info("server configured",
			zap.String("id", spec.ID),
			zap.String("type", string(spec.Type)))
	}

	reg, err := registry.New(registry.Config{Adapters: adapters, Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Error("shutdown left adapters running", zap.Error(err))
		}
	}()

	initCtx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := reg.Init(initCtx); err != nil {
		return err
	}
	logger.Info("registry initialized", zap.Int("tools", len(reg.ToolNames())))

	srv := &http.Server{
		Addr:              addr,
		Handler:           gateway.New(gateway.Config{Registry: reg, Logger: logger}).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// buildAdapter constructs the transport for one server spec.
func buildAdapter(spec config.ServerSpec, logger *zap.Logger) adapter.Adapter {
	switch spec.Type {
	case config.TypeHTTP:
		return httprpc.New(httprpc.Config{
			ID:      spec.ID,
			BaseURL: spec.BaseURL,
			Logger:  logger,
		})
	default:
		return stdio.New(stdio.Config{
			ID:        spec.ID,
			Image:     spec.Image,
			ExtraArgs: spec.DockerArgs,
			Logger:    logger,
		})
	}
}
