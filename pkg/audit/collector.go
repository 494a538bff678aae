package audit

import (
	"log/slog"
	"sync"
	"time"
)

// CollectorConfig configures audit-event collection on a producer.
type CollectorConfig struct {
	Sink          string        `yaml:"sink"` // "http", "stdout", "file", "nop"
	FilePath      string        `yaml:"file_path"`
	IngestAddr    string        `yaml:"ingest_addr"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxRetries    int           `yaml:"max_retries"`
}

// Collector batches audit events and hands them to an Emitter. Producers
// call Record once per access; delivery downstream is at-least-once.
type Collector struct {
	cfg     CollectorConfig
	emitter Emitter

	batch []Event
	mu    sync.Mutex

	flushCh chan struct{}
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewCollector creates an audit collector for the configured sink.
func NewCollector(cfg CollectorConfig) (*Collector, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}

	var emitter Emitter
	switch cfg.Sink {
	case "stdout":
		emitter = NewStdoutEmitter()
	case "file":
		var err error
		path := cfg.FilePath
		if path == "" {
			path = "/var/log/tallyd/audit.jsonl"
		}
		emitter, err = NewFileEmitter(path)
		if err != nil {
			return nil, err
		}
	case "http":
		addr := cfg.IngestAddr
		if addr == "" {
			addr = "http://localhost:8080"
		}
		emitter = NewHTTPEmitter(addr, cfg.MaxRetries)
	default:
		emitter = NewNopEmitter()
	}

	c := &Collector{
		cfg:     cfg,
		emitter: emitter,
		batch:   make([]Event, 0, cfg.BatchSize),
		flushCh: make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}

	c.wg.Add(1)
	go c.flushLoop()
	return c, nil
}

// NewCollectorWithEmitter creates a collector bound to an explicit emitter.
// Used by tests and embedders that manage their own sink.
func NewCollectorWithEmitter(cfg CollectorConfig, emitter Emitter) *Collector {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	c := &Collector{
		cfg:     cfg,
		emitter: emitter,
		batch:   make([]Event, 0, cfg.BatchSize),
		flushCh: make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
	c.wg.Add(1)
	go c.flushLoop()
	return c
}

// Record adds an audit event. Non-blocking.
func (c *Collector) Record(evt Event) {
	c.mu.Lock()
	c.batch = append(c.batch, evt)
	shouldFlush := len(c.batch) >= c.cfg.BatchSize
	c.mu.Unlock()

	if shouldFlush {
		select {
		case c.flushCh <- struct{}{}:
		default:
		}
	}
}

// Flush forces a flush of the current batch.
func (c *Collector) Flush() {
	c.flush()
}

// Close flushes remaining events and closes the emitter.
func (c *Collector) Close() error {
	close(c.closeCh)
	c.wg.Wait()
	return c.emitter.Close()
}

// Pending returns all currently batched events (for testing).
func (c *Collector) Pending() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.batch))
	copy(out, c.batch)
	return out
}

func (c *Collector) flushLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCh:
			c.flush() // Final flush
			return
		case <-c.flushCh:
			c.flush()
		case <-ticker.C:
			c.flush()
		}
	}
}

func (c *Collector) flush() {
	c.mu.Lock()
	if len(c.batch) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.batch
	c.batch = make([]Event, 0, c.cfg.BatchSize)
	c.mu.Unlock()

	// The HTTP emitter retries internally; a batch that still fails is
	// dropped here, which bounds producer memory at the cost of losing
	// those events.
	if err := c.emitter.Emit(batch); err != nil {
		slog.Warn("audit flush failed", "count", len(batch), "error", err)
	}
}
