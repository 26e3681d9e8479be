package logger

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/axiomhq/axiom-go/axiom"
	"github.com/axiomhq/axiom-go/axiom/ingest"
)

const (
	axiomBuffer = 1000
	axiomBatch  = 200
)

type ingester interface {
	IngestEvents(ctx context.Context, dataset string, events []axiom.Event, options ...ingest.Option) (*ingest.Status, error)
}

// axiomShipper is an io.Writer that batches JSON log lines into Axiom.
// Lines are dropped when the buffer is full; logging never blocks on the network.
type axiomShipper struct {
	client  ingester
	dataset string
	service string
	lines   chan []byte
	stop    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

func newAxiomShipper(opts AxiomOptions, service string) (*axiomShipper, error) {
	clientOpts := []axiom.Option{axiom.SetToken(opts.Token)}
	if opts.OrgID != "" {
		clientOpts = append(clientOpts, axiom.SetOrganizationID(opts.OrgID))
	}
	c, err := axiom.NewClient(clientOpts...)
	if err != nil {
		return nil, err
	}
	return startShipper(c, opts.Dataset, service, opts.FlushEvery), nil
}

func startShipper(c ingester, dataset, service string, flushEvery time.Duration) *axiomShipper {
	if dataset == "" {
		dataset = "dev_" + service
	}
	if flushEvery <= 0 {
		flushEvery = 10 * time.Second
	}
	s := &axiomShipper{
		client:  c,
		dataset: dataset,
		service: service,
		lines:   make(chan []byte, axiomBuffer),
		stop:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run(flushEvery)
	return s
}

func (s *axiomShipper) Write(p []byte) (int, error) {
	// zerolog reuses p after Write returns
	line := append([]byte(nil), p...)
	select {
	case s.lines <- line:
	default:
	}
	return len(p), nil
}

// event decodes one line. Debug and trace lines are not shipped.
func (s *axiomShipper) event(line []byte) (axiom.Event, bool) {
	ev := axiom.Event{}
	if err := json.Unmarshal(line, &ev); err != nil {
		ev = axiom.Event{"message": string(line), "level": "info"}
	}
	switch ev["level"] {
	case "debug", "trace":
		return nil, false
	}
	if _, ok := ev["service"]; !ok {
		ev["service"] = s.service
	}
	if _, ok := ev[ingest.TimestampField]; !ok {
		ev[ingest.TimestampField] = time.Now()
	}
	return ev, true
}

func (s *axiomShipper) run(flushEvery time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	batch := make([]axiom.Event, 0, axiomBatch)
	add := func(line []byte) {
		if ev, ok := s.event(line); ok {
			batch = append(batch, ev)
		}
	}
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		_, _ = s.client.IngestEvents(ctx, s.dataset, batch)
		cancel()
		batch = make([]axiom.Event, 0, axiomBatch)
	}

	for {
		select {
		case line := <-s.lines:
			add(line)
			if len(batch) >= axiomBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.stop:
			for {
				select {
				case line := <-s.lines:
					add(line)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *axiomShipper) Close() {
	s.once.Do(func() {
		close(s.stop)
		s.wg.Wait()
	})
}
