// migrate applies or rolls back the embedded SQL migrations, or prints the current version.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"distrack/backend/internal/config"
	"distrack/backend/internal/db/migrate"
	"distrack/backend/internal/platform/logging"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up, down, or version")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, "text")
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	if *direction == "version" {
		version, dirty, err := migrate.Version(cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("migrate: version")
		}
		log.WithFields(logrus.Fields{"version": version, "dirty": dirty}).Info("schema version")
		return
	}

	if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil {
		log.WithError(err).Fatal("migrate")
	}
	log.WithField("direction", *direction).Info("migrations applied")
}
