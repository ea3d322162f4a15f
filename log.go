package main

import (
	"os"

	"github.com/charmbracelet/log"
)

// setupLog configures the global logger. By default warnings and errors go
// to stderr; OVP_LOGFILE redirects everything to a file and OVP_DEBUG
// raises verbosity. The returned closer flushes the log file, if any.
func setupLog() (func() error, error) {
	cfg, err := loadEnvConfig()
	if err != nil {
		return nil, err
	}

	log.SetReportTimestamp(false)
	log.SetLevel(log.WarnLevel)
	if cfg.Debug {
		log.SetReportTimestamp(true)
		log.SetLevel(log.DebugLevel)
	}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		log.SetOutput(f)
		log.SetReportTimestamp(true)
		return f.Close, nil
	}
	return func() error { return nil }, nil
}
