package core

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/vrsandeep/setlist-go/internal/config"
)

// SetupLogger configures the global logrus logger from log.level and
// log.format. Unknown levels fall back to info.
func SetupLogger(cfg *config.Config) {
	log.SetOutput(os.Stdout)

	if cfg.Log.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
}
