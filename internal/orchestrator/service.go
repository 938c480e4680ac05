// Package orchestrator wires the inbound and outbound pipelines, the ledger and the transport
// collaborators into one service with an administrative surface.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"poscheck/internal/failover"
	"poscheck/internal/journal"
	"poscheck/internal/ledger"
	"poscheck/internal/obs"
	"poscheck/internal/ops"
	"poscheck/internal/pipeline"
	"poscheck/internal/publish"
	"poscheck/internal/replication"
	"poscheck/internal/schema"
	"poscheck/internal/store"
	"poscheck/internal/transport"
	"poscheck/pkg/exception"
)

const (
	inboundName  = "inbound"
	outboundName = "outbound"

	stopDrainTimeout = 10 * time.Second
)

// Options overrides collaborators, mostly for tests.
type Options struct {
	Registry *transport.Registry
	Metrics  *obs.Metrics
	// Store replaces the configured ledger store.
	Store store.Store
}

// Status is a point-in-time view of the service.
type Status struct {
	Started         bool   `json:"started"`
	Primary         bool   `json:"primary"`
	LedgerLastSeq   uint64 `json:"ledgerLastSeq"`
	PersistedSeq    uint64 `json:"persistedSeq"`
	Processed       uint64 `json:"processed"`
	InboundLastSeq  uint64 `json:"inboundLastSeq"`
	OutboundLastSeq uint64 `json:"outboundLastSeq"`
	Malformed       uint64 `json:"malformed"`
}

// Service owns one ledger and, while started, one inbound and one outbound pipeline.
type Service struct {
	cfg      ops.Config
	registry *transport.Registry
	metrics  *obs.Metrics
	ledger   *ledger.Ledger
	failover *failover.Controller
	writer   transport.Writer

	mu      sync.Mutex
	started bool
	reader  transport.Reader
	// readerUsed is set once the reader stream was consumed; a restart needs a fresh reader.
	readerUsed bool
	run        *running
}

// running holds everything built by Start and released by Stop.
type running struct {
	inJournal  *journal.Journal
	outJournal *journal.Journal
	replica    replication.Sink
	inbound    *pipeline.Pipeline
	outbound   *pipeline.Pipeline
	publisher  *publish.Handler
	cancel     context.CancelFunc
	pumpDone   chan struct{}
}

// New initializes the ledger from its store and the inbound journal, and resolves the
// configured reader and writer. Any error leaves nothing running.
func New(ctx context.Context, cfg ops.Config, opt Options) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opt.Registry == nil {
		opt.Registry = transport.DefaultRegistry()
	}
	if opt.Metrics == nil {
		opt.Metrics = obs.NewMetrics()
	}

	st := opt.Store
	if st == nil {
		var err error
		st, err = store.Open(ctx, store.Options{
			Kind:        cfg.LedgerStore,
			Path:        cfg.LedgerPath,
			PostgresDSN: cfg.PostgresDSN,
		})
		if err != nil {
			return nil, errors.Wrap(err, "open ledger store").With("kind", cfg.LedgerStore)
		}
	}

	s := &Service{
		cfg:      cfg,
		registry: opt.Registry,
		metrics:  opt.Metrics,
		failover: failover.NewController(cfg.Primary),
		ledger: ledger.New(st, ledger.Options{
			PersistBatch: cfg.LedgerPersistBatch,
			Metrics:      opt.Metrics,
		}),
	}
	s.metrics.SetPrimary(cfg.Primary)

	if err := s.ledger.Open(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	pb, err := journal.NewPlayback(journal.PlaybackConfig{Dir: cfg.InboundJournalPath})
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if _, err := s.ledger.Recover(ctx, pb); err != nil {
		_ = st.Close()
		return nil, err
	}

	writer, err := s.registry.NewWriter(cfg.WriterClass)
	if err != nil {
		_ = st.Close()
		return nil, errors.Wrap(err, "resolve writer").With("class", cfg.WriterClass)
	}
	if err := writer.Initialize(s.transportConfig()); err != nil {
		_ = st.Close()
		return nil, errors.Wrap(err, "initialize writer").With("class", cfg.WriterClass)
	}
	s.writer = writer

	reader, err := s.newReader()
	if err != nil {
		_ = writer.Close()
		_ = st.Close()
		return nil, err
	}
	s.reader = reader

	logs.Infof("service initialized: reader=%s writer=%s store=%s primary=%t",
		cfg.ReaderClass, cfg.WriterClass, cfg.LedgerStore, cfg.Primary)
	return s, nil
}

func (s *Service) transportConfig() transport.Config {
	return transport.Config{
		ReaderFilePath: s.cfg.Reader.Path,
		WriterFilePath: s.cfg.Writer.Path,
		RabbitMQ: transport.RabbitMQConfig{
			URL:           s.cfg.RabbitMQ.URL,
			Exchange:      s.cfg.RabbitMQ.Exchange,
			RequestTopic:  s.cfg.RabbitMQ.RequestTopic,
			ResponseTopic: s.cfg.RabbitMQ.ResponseTopic,
			Queue:         s.cfg.RabbitMQ.Queue,
		},
		Kafka: transport.KafkaConfig{
			Brokers:       s.cfg.Kafka.Brokers,
			GroupID:       s.cfg.Kafka.GroupID,
			RequestTopic:  s.cfg.Kafka.RequestTopic,
			ResponseTopic: s.cfg.Kafka.ResponseTopic,
		},
		Failover:    s.failover,
		OnMalformed: s.dropMalformed,
	}
}

func (s *Service) newReader() (transport.Reader, error) {
	reader, err := s.registry.NewReader(s.cfg.ReaderClass)
	if err != nil {
		return nil, errors.Wrap(err, "resolve reader").With("class", s.cfg.ReaderClass)
	}
	if err := reader.Initialize(s.transportConfig()); err != nil {
		return nil, errors.Wrap(err, "initialize reader").With("class", s.cfg.ReaderClass)
	}
	return reader, nil
}

func (s *Service) dropMalformed(text string, err error) {
	s.metrics.IncMalformed()
	logs.Errorf("drop malformed message %q, err: %+v", text, err)
}

// Start builds fresh pipelines, outbound first so the ledger always has somewhere to forward,
// then starts consuming the reader.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return exception.ErrAlreadyStarted
	}

	if s.readerUsed {
		_ = s.reader.Close()
		reader, err := s.newReader()
		if err != nil {
			return err
		}
		s.reader, s.readerUsed = reader, false
	}

	run := &running{}
	if err := s.build(run); err != nil {
		s.release(run)
		return err
	}

	if err := run.outbound.Start(run.outJournal.LastSeq()); err != nil {
		s.release(run)
		return err
	}
	if err := s.ledger.Start(run.outbound); err != nil {
		run.outbound.Stop()
		s.release(run)
		return err
	}
	// the ledger persists in parallel with the journal, so it may be ahead of the journal tail
	base := max(run.inJournal.LastSeq(), s.ledger.LastSeq())
	if err := run.inbound.Start(base); err != nil {
		_ = s.ledger.Stop(ctx)
		run.outbound.Stop()
		s.release(run)
		return err
	}

	pumpCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := s.reader.ReadAll(pumpCtx)
	if err != nil {
		cancel()
		run.inbound.Stop()
		_ = s.ledger.Stop(ctx)
		run.outbound.Stop()
		s.release(run)
		return errors.Wrap(err, "read inbound stream")
	}
	s.readerUsed = true
	run.cancel = cancel
	run.pumpDone = make(chan struct{})
	go s.pump(pumpCtx, stream, run)

	s.run, s.started = run, true
	logs.Infof("service started: inbound_base=%d outbound_base=%d", base, run.outJournal.LastSeq())
	return nil
}

func (s *Service) build(run *running) error {
	var err error
	outCfg := journal.DefaultConfig(s.cfg.OutboundJournalPath)
	outCfg.Sync = s.cfg.JournalSync
	if run.outJournal, err = journal.Open(outCfg); err != nil {
		return err
	}
	inCfg := journal.DefaultConfig(s.cfg.InboundJournalPath)
	inCfg.Sync = s.cfg.JournalSync
	if run.inJournal, err = journal.Open(inCfg); err != nil {
		return err
	}
	if run.replica, err = s.openReplica(); err != nil {
		return err
	}

	run.outbound, err = pipeline.New(pipeline.Config{
		Name:         outboundName,
		BufferSize:   s.cfg.BufferSize,
		WaitStrategy: s.cfg.OutboundWaitStrategy,
	}, s.metrics)
	if err != nil {
		return err
	}
	run.publisher = publish.NewHandler(s.writer, s.failover, s.metrics)
	run.outbound.Handle(
		journal.NewHandler("outbound-journal", run.outJournal, schema.EventResult),
		run.publisher,
	)

	run.inbound, err = pipeline.New(pipeline.Config{
		Name:         inboundName,
		BufferSize:   s.cfg.BufferSize,
		WaitStrategy: s.cfg.InboundWaitStrategy,
	}, s.metrics)
	if err != nil {
		return err
	}
	stages := []pipeline.Handler{journal.NewHandler("inbound-journal", run.inJournal, schema.EventRequest)}
	if run.replica != nil {
		stages = append(stages, replication.NewHandler(run.replica))
	}
	stages = append(stages, s.ledger)
	run.inbound.Handle(stages...)
	return nil
}

func (s *Service) openReplica() (replication.Sink, error) {
	switch s.cfg.Replication.Mode {
	case replication.ModeFile:
		return replication.NewFileSink(s.cfg.Replication.FilePath, s.cfg.JournalSync)
	case replication.ModeRedis:
		return replication.NewRedisSink(context.Background(), s.cfg.Replication.RedisAddr, s.cfg.Replication.RedisStream)
	default:
		return nil, nil
	}
}

// release closes the durable resources of run.
func (s *Service) release(run *running) {
	if run.replica != nil {
		if err := run.replica.Close(); err != nil {
			logs.Errorf("close replica, err: %+v", err)
		}
	}
	if run.inJournal != nil {
		if err := run.inJournal.Close(); err != nil {
			logs.Errorf("close inbound journal, err: %+v", err)
		}
	}
	if run.outJournal != nil {
		if err := run.outJournal.Close(); err != nil {
			logs.Errorf("close outbound journal, err: %+v", err)
		}
	}
}

// pump moves reader payloads into the inbound pipeline. Push blocks while the ring is full,
// which in turn stops the pump from taking more from the reader.
func (s *Service) pump(ctx context.Context, stream <-chan schema.Payload, run *running) {
	defer close(run.pumpDone)
	for p := range stream {
		if err := run.inbound.Push(ctx, p); err != nil {
			if ctx.Err() == nil {
				logs.Errorf("inbound pipeline refused payload uid=%s, err: %+v", p.UID, err)
			}
			// release the reader goroutine so the stream closes
			run.cancel()
			for range stream {
			}
			return
		}
	}
	logs.Info("inbound stream ended")
}

// Stop stops the reader, drains the inbound pipeline, persists the ledger, then drains the
// outbound pipeline. Payloads the reader already handed over are pushed before the pipeline stops.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return exception.ErrNotStarted
	}
	run := s.run

	if err := s.reader.Close(); err != nil {
		logs.Errorf("close reader, err: %+v", err)
	}
	select {
	case <-run.pumpDone:
	case <-time.After(stopDrainTimeout):
		logs.Errorf("inbound stream did not end within %s, cancelling intake", stopDrainTimeout)
		run.cancel()
		<-run.pumpDone
	}
	run.cancel()

	run.inbound.Stop()
	err := s.ledger.Stop(ctx)
	run.outbound.Stop()
	s.release(run)

	if ierr := run.inbound.Err(); ierr != nil {
		logs.Errorf("inbound pipeline halted with fault, err: %+v", ierr)
	}
	if oerr := run.outbound.Err(); oerr != nil {
		logs.Errorf("outbound pipeline halted with fault, err: %+v", oerr)
	}

	s.run, s.started = nil, false
	logs.Infof("service stopped: ledger_last_seq=%d emitted=%d suppressed=%d",
		s.ledger.LastSeq(), run.publisher.Emitted(), run.publisher.Suppressed())
	return err
}

// Started reports whether the pipelines are running.
func (s *Service) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// OnMessage validates external text and pushes it into the inbound pipeline.
func (s *Service) OnMessage(ctx context.Context, text string) error {
	p, err := schema.ParseText(text)
	if err != nil {
		s.dropMalformed(text, err)
		return err
	}

	s.mu.Lock()
	run := s.run
	s.mu.Unlock()
	if run == nil {
		logs.Errorf("drop message uid=%s, service not started", p.UID)
		return exception.ErrNotStarted
	}
	return run.inbound.Push(ctx, p)
}

// Upload loads a start of day snapshot. It is only allowed while stopped.
func (s *Service) Upload(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return exception.ErrNotAllowed
	}
	return s.ledger.LoadStartOfDay(ctx, path)
}

func (s *Service) Inventory() []schema.InventoryRecord {
	return s.ledger.Inventory()
}

func (s *Service) UpdateInventory(ctx context.Context, rec schema.InventoryRecord) (schema.InventoryRecord, error) {
	return s.ledger.UpdateInventory(ctx, rec)
}

func (s *Service) DeleteInventory(ctx context.Context, key string) error {
	return s.ledger.DeleteInventory(ctx, key)
}

func (s *Service) ClearInventory(ctx context.Context) error {
	return s.ledger.ClearInventory(ctx)
}

// TogglePrimary flips the failover role through the writer and returns the new role.
func (s *Service) TogglePrimary() bool {
	primary := s.writer.TogglePrimary()
	s.metrics.SetPrimary(primary)
	return primary
}

// Snapshot returns the current ledger state.
func (s *Service) Snapshot() ledger.Snapshot {
	return s.ledger.Snapshot()
}

func (s *Service) Metrics() *obs.Metrics {
	return s.metrics
}

// Reader returns the reader the next or current Start consumes.
func (s *Service) Reader() transport.Reader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader
}

func (s *Service) Writer() transport.Writer {
	return s.writer
}

func (s *Service) Status() Status {
	s.mu.Lock()
	run := s.run
	st := Status{Started: s.started}
	s.mu.Unlock()

	st.Primary = s.failover.IsPrimary()
	st.LedgerLastSeq = s.ledger.LastSeq()
	st.PersistedSeq = s.ledger.PersistedSeq()
	st.Processed = s.ledger.Processed()
	st.Malformed = s.metrics.Snapshot().Malformed
	if run != nil {
		st.InboundLastSeq = run.inbound.LastSeq()
		st.OutboundLastSeq = run.outbound.LastSeq()
	}
	return st
}

// Close stops the service if needed and releases every collaborator.
func (s *Service) Close(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil && !errors.Is(err, exception.ErrNotStarted) {
		logs.Errorf("stop service, err: %+v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reader.Close(); err != nil {
		logs.Errorf("close reader, err: %+v", err)
	}
	if err := s.writer.Close(); err != nil {
		logs.Errorf("close writer, err: %+v", err)
	}
	return s.ledger.Close(ctx)
}
