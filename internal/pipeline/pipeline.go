package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/yanun0323/logs"

	"poscheck/internal/bus"
	"poscheck/internal/disruptor"
	"poscheck/internal/obs"
	"poscheck/internal/schema"
	"poscheck/pkg/exception"
)

// Handler is a pipeline stage.
type Handler = disruptor.Handler[schema.Event]

// Group is a set of stages that later stages can depend on.
type Group = disruptor.Group[schema.Event]

// Config describes one pipeline.
type Config struct {
	Name            string
	BufferSize      int
	WaitStrategy    string
	IngressCapacity int
}

// Pipeline is one ring buffer with its stage graph and the single goroutine that produces into
// it. Any goroutine may Push; payloads are funnelled to the producer through the ingress queue.
type Pipeline struct {
	name    string
	d       *disruptor.Disruptor[schema.Event]
	ingress *bus.Queue
	metrics *obs.Metrics

	published     prometheus.Counter
	stageCount    int
	baseSeq       uint64
	translate     func(slot *schema.Event, seq int64, p schema.Payload)
	publishedSeqs atomic.Uint64

	started      atomic.Bool
	stopOnce     sync.Once
	producerDone chan struct{}
}

// New validates the configuration and allocates the ring buffer.
func New(cfg Config, metrics *obs.Metrics) (*Pipeline, error) {
	strategy, err := disruptor.ParseWaitStrategy(cfg.WaitStrategy)
	if err != nil {
		return nil, err
	}
	d, err := disruptor.New[schema.Event](disruptor.Config{
		Name:         cfg.Name,
		BufferSize:   cfg.BufferSize,
		WaitStrategy: strategy,
	})
	if err != nil {
		return nil, err
	}
	logs.Infof("pipeline %s created: size=%d wait=%s", cfg.Name, cfg.BufferSize, cfg.WaitStrategy)
	return &Pipeline{
		name:         cfg.Name,
		d:            d,
		ingress:      bus.NewQueue(cfg.IngressCapacity),
		metrics:      metrics,
		published:    metrics.PublishedCounter(cfg.Name),
		producerDone: make(chan struct{}),
	}, nil
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string {
	return p.name
}

// Handle adds independent root stages.
func (p *Pipeline) Handle(handlers ...Handler) *Group {
	return p.d.HandleEventsWith(p.instrument(handlers)...)
}

// Then adds stages that run after every stage of g.
func (p *Pipeline) Then(g *Group, handlers ...Handler) *Group {
	return g.Then(p.instrument(handlers)...)
}

// After joins groups so the next Then waits for all of them.
func (p *Pipeline) After(groups ...*Group) *Group {
	return p.d.After(groups...)
}

// Start launches the stages and the producer. The first published event gets sequence
// baseSeq+1, which keeps sequences continuous with the journal across restarts.
func (p *Pipeline) Start(baseSeq uint64) error {
	if !p.started.CompareAndSwap(false, true) {
		return exception.ErrAlreadyStarted
	}
	p.baseSeq = baseSeq
	p.translate = func(slot *schema.Event, seq int64, payload schema.Payload) {
		slot.Set(baseSeq+uint64(seq)+1, payload)
	}
	if err := p.d.Start(); err != nil {
		p.started.Store(false)
		return err
	}

	go p.produce()
	go p.watch()
	logs.Infof("pipeline %s started: base_seq=%d", p.name, baseSeq)
	return nil
}

// Push hands a payload to the producer. It blocks while the ring buffer is full, and fails
// once the pipeline is stopping or halted.
func (p *Pipeline) Push(ctx context.Context, payload schema.Payload) error {
	if !p.started.Load() {
		return exception.ErrNotStarted
	}
	return p.ingress.Publish(ctx, payload)
}

// Stop drains the ingress, lets every stage process what was published, then releases the
// ring buffer.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.ingress.Close()
		if p.started.Load() {
			<-p.producerDone
		}
		p.d.Shutdown()
		logs.Infof("pipeline %s stopped: published=%d last_seq=%d", p.name, p.Published(), p.LastSeq())
	})
}

// Err returns the stage fault that halted the pipeline, if any.
func (p *Pipeline) Err() error {
	return p.d.Err()
}

// Done is closed once the ring buffer has halted.
func (p *Pipeline) Done() <-chan struct{} {
	return p.d.Done()
}

// Published returns how many events this run published.
func (p *Pipeline) Published() uint64 {
	return p.publishedSeqs.Load()
}

// LastSeq returns the global sequence of the last published event.
func (p *Pipeline) LastSeq() uint64 {
	return p.baseSeq + p.publishedSeqs.Load()
}

func (p *Pipeline) produce() {
	defer close(p.producerDone)

	producer := p.d.Producer()
	rb := p.d.RingBuffer()
	err := p.ingress.Run(context.Background(), func(payload schema.Payload) error {
		stalls := rb.Stalls()
		if err := disruptor.PublishEvent(producer, p.translate, payload); err != nil {
			return err
		}
		p.publishedSeqs.Add(1)
		p.published.Inc()
		p.metrics.AddBackpressure(p.name, rb.Stalls()-stalls)
		if payload.CreatedTime > 0 {
			p.metrics.ObservePublish(time.Duration(schema.Nanotime() - payload.CreatedTime))
		}
		return nil
	})
	if err != nil {
		logs.Errorf("pipeline %s producer stopped, err: %+v", p.name, err)
		p.ingress.Close()
	}
}

// watch closes the ingress when a stage fault halts the ring buffer so pushers fail fast.
func (p *Pipeline) watch() {
	<-p.d.Done()
	if err := p.d.Err(); err != nil {
		p.metrics.IncFault(p.name)
		logs.Errorf("pipeline %s halted by fault, err: %+v", p.name, err)
	}
	p.ingress.Close()
}

func (p *Pipeline) instrument(handlers []Handler) []Handler {
	out := make([]Handler, len(handlers))
	for i, h := range handlers {
		if h == nil {
			continue
		}
		name := fmt.Sprintf("stage-%d", p.stageCount)
		if n, ok := h.(disruptor.Named); ok && n.Name() != "" {
			name = n.Name()
		}
		p.stageCount++
		out[i] = &stage{
			inner:   h,
			name:    name,
			counter: p.metrics.StageCounter(p.name, name),
		}
	}
	return out
}

type stage struct {
	inner   Handler
	name    string
	counter prometheus.Counter
}

func (s *stage) Name() string { return s.name }

func (s *stage) OnEvent(ev *schema.Event, seq int64, endOfBatch bool) error {
	if err := s.inner.OnEvent(ev, seq, endOfBatch); err != nil {
		return err
	}
	s.counter.Inc()
	return nil
}

func (s *stage) OnStart() {
	if la, ok := s.inner.(disruptor.LifecycleAware); ok {
		la.OnStart()
	}
}

func (s *stage) OnShutdown() {
	if la, ok := s.inner.(disruptor.LifecycleAware); ok {
		la.OnShutdown()
	}
}
