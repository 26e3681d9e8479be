package logger

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/axiomhq/axiom-go/axiom"
	"github.com/axiomhq/axiom-go/axiom/ingest"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

type captureIngester struct {
	mu      sync.Mutex
	dataset string
	events  []axiom.Event
}

func (c *captureIngester) IngestEvents(_ context.Context, dataset string, events []axiom.Event, _ ...ingest.Option) (*ingest.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dataset = dataset
	c.events = append(c.events, events...)
	return &ingest.Status{}, nil
}

func TestInitWritesRotatedFile(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	path := filepath.Join(t.TempDir(), "logs", "app.log")
	require.NoError(t, Init(Options{Level: "debug", File: FileOptions{Path: path, MaxSizeMB: 1}}))
	defer Close()

	l := Component("scheduler")
	l.Info().Str("course_id", "c1").Msg("week evaluation finished")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"service":"notesync"`)
	require.Contains(t, string(raw), `"component":"scheduler"`)
	require.Contains(t, string(raw), `"course_id":"c1"`)
}

func TestInitFallsBackToInfo(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	require.NoError(t, Init(Options{Level: "chatty"}))
	require.Equal(t, zerolog.InfoLevel, log.Logger.GetLevel())
}

func TestShipperBatchesAndSkipsDebug(t *testing.T) {
	ing := &captureIngester{}
	s := startShipper(ing, "", "notesync", time.Hour)

	l := zerolog.New(s)
	l.Debug().Msg("noise")
	l.Info().Str("week", "3").Msg("scored")
	l.Warn().Msg("retrying")
	_, _ = s.Write([]byte("not json"))
	s.Close()
	s.Close()

	ing.mu.Lock()
	defer ing.mu.Unlock()
	require.Equal(t, "dev_notesync", ing.dataset)
	require.Len(t, ing.events, 3)
	require.Equal(t, "scored", ing.events[0]["message"])
	require.Equal(t, "notesync", ing.events[0]["service"])
	require.Equal(t, "not json", ing.events[2]["message"])
}
