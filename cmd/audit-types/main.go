package main

import (
	"flag"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config holds the generator options
type Config struct {
	Package  string
	Output   string
	Types    string
	LogLevel string
}

// audit-types writes a Go file with a constant for every allowed audit
// category. Constants from an existing output file are kept.
func main() {
	config := parseFlags()
	logger := setupLogger(config.LogLevel)

	if err := generate(config, logger); err != nil {
		logger.Fatalf("Failed to generate audit types: %v", err)
	}
}

func parseFlags() *Config {
	config := &Config{}

	flag.StringVar(&config.Package, "package", "audittypes", "Package name of the generated file")
	flag.StringVar(&config.Output, "output", filepath.Join("audittypes", "types.go"), "Output file")
	flag.StringVar(&config.Types, "types", os.Getenv("AUDIT_ADDITIONAL_TYPES"), "Comma separated additional audit types")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	flag.Parse()

	return config
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

func generate(config *Config, logger logrus.FieldLogger) error {
	existing, err := existingConstants(config.Output)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		logger.WithField("count", len(existing)).Debug("Keeping constants from existing file")
	}

	constants := collect(splitTypes(config.Types), existing)
	src, err := render(config.Package, constants)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(config.Output), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(config.Output, src, 0644); err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"output":    config.Output,
		"constants": len(constants),
	}).Info("Audit types generated")
	return nil
}

func splitTypes(value string) []string {
	var out []string
	for _, t := range strings.Split(value, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
