package main

import (
	"log"
	"os"

	"github.com/avstrong/hostel/internal/app"
	"github.com/avstrong/hostel/internal/config"
	"github.com/avstrong/hostel/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Failed to load config: %v", err.Error())
		os.Exit(1)
	}

	l := logger.New(os.Stdout, cfg.LogLevel)

	var exitCode int

	if err := app.Run(l, cfg); err != nil {
		l.LogErrorf("Failed to run app: %v", err.Error())

		exitCode = 1
	}

	os.Exit(exitCode)
}
