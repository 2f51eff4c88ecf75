package main

import (
	"flag"
	"log"
	"os"
	"strings"

	"SignalPipe/internal/di"
	"SignalPipe/pkg/config"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	components := flag.String("components", "", "comma-separated components to run (default: config app.components)")
	checkOnly := flag.Bool("check-config", false, "load and validate the config, then exit")
	flag.Parse()

	// .env is optional; real environment wins
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("dotenv: %v", err)
	}
	if *components != "" {
		_ = os.Setenv("COMPONENTS", *components)
	}

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	log.Printf("env=%s components=%s execution_mode=%s",
		cfg.Environment, strings.Join(cfg.App.Components, ","), cfg.Execution.Mode)
	if *checkOnly {
		return
	}

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("init: %v", err)
	}

	// blocks until SIGINT/SIGTERM
	err = app.Run()
	cleanup()
	if err != nil {
		log.Printf("app: %v", err)
		os.Exit(1)
	}
}
