package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/solkunai/soltrivia/internal/config"
	"github.com/solkunai/soltrivia/internal/server"
)

const defaultConfigPath = "config/soltrivia.yaml"

func main() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultConfigPath
	}

	var c server.Config
	if err := config.Load(path, &c); err != nil {
		slog.Error("soltrivia: load config failed", "path", path, "error", err)
		os.Exit(1)
	}

	s, err := server.Init(c)
	if err != nil {
		slog.Error("soltrivia: init failed", "error", err)
		os.Exit(1)
	}

	slog.Info("soltrivia: starting", "config", path, "port", c.HTTP.Port)
	go s.Start()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGTERM, os.Interrupt)
	<-shutdown

	slog.Info("soltrivia: shutting down")
	s.Shutdown()
}
