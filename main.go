package main

import (
	"log"

	"github.com/joho/godotenv"

	"apflow/cmd"
	"apflow/internal/config"
	"apflow/internal/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	// Logger setup must not depend on a fully valid configuration; command
	// handlers reload and validate it themselves.
	if cfg, err := config.Load(); err == nil {
		if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
	} else {
		if err := logger.Setup(logger.DefaultConfig()); err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
	}

	cmd.Execute()
}
