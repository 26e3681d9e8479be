// Package logger configures the process-wide zerolog logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const defaultService = "notesync"

// FileOptions enables a rotated log file when Path is set.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomOptions enables log shipping when Token is set.
type AxiomOptions struct {
	Token      string
	OrgID      string
	Dataset    string
	FlushEvery time.Duration
}

type Options struct {
	Level   string
	Pretty  bool
	Service string
	File    FileOptions
	Axiom   AxiomOptions
}

var shipper *axiomShipper

// Init replaces the global logger. Stdout is always written; the file and Axiom sinks are optional.
// A failing Axiom client only disables shipping.
func Init(opts Options) error {
	if opts.Service == "" {
		opts.Service = defaultService
	}
	var out io.Writer = os.Stdout
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	writers := []io.Writer{out}

	if opts.File.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File.Path), 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.File.Path,
			MaxSize:    opts.File.MaxSizeMB,
			MaxBackups: opts.File.MaxBackups,
			MaxAge:     opts.File.MaxAgeDays,
			Compress:   opts.File.Compress,
		})
	}

	if opts.Axiom.Token != "" {
		s, err := newAxiomShipper(opts.Axiom, opts.Service)
		if err != nil {
			fmt.Fprintf(os.Stderr, "axiom shipping disabled: %v\n", err)
		} else {
			shipper = s
			writers = append(writers, s)
		}
	}

	lvl, err := zerolog.ParseLevel(opts.Level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(lvl).
		With().Timestamp().Str("service", opts.Service).
		Logger()
	return nil
}

// Close drains the Axiom buffer, if any.
func Close() {
	if shipper != nil {
		shipper.Close()
		shipper = nil
	}
}

// Component returns a child of the global logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}
