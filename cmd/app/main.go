package main

import (
	"flag"
	"log"
	"os"

	"MarketPull/internal/di"
	"MarketPull/pkg/config"
	"MarketPull/pkg/server"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	roleName := flag.String("role", "all", "process role: all, api or worker")
	flag.Parse()

	role, err := server.ParseRole(*roleName)
	if err != nil {
		log.Fatalf("invalid role: %v", err)
	}

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s role=%s stream=%t backend=%s", cfg.Environment, role, cfg.Stream.Enabled, cfg.Stream.Backend)

	app, cleanup, err := di.InitializeApp(cfg, role)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	// Run blocks until SIGINT or SIGTERM.
	runErr := app.Run()
	cleanup()
	if runErr != nil {
		log.Printf("app error: %v", runErr)
		os.Exit(1)
	}
}
