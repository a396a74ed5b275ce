package accessgate

import (
	"context"
	"sync"
	"sync/atomic"
)

// decisionDispatcher decouples decision recording from the hot path. A
// single goroutine drains the buffer into the sink; the authorization
// path only ever enqueues.
type decisionDispatcher struct {
	cfg       AuditConfig
	sink      DecisionSink
	ch        chan DecisionRecord
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func newDecisionDispatcher(cfg AuditConfig, sink DecisionSink) *decisionDispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &decisionDispatcher{
		cfg:  cfg,
		sink: sink,
		ch:   make(chan DecisionRecord, cfg.BufferSize),
		done: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *decisionDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case record := <-d.ch:
			d.sink.Emit(context.Background(), record)
		case <-d.done:
			// Drain what was enqueued before Close.
			for {
				select {
				case record := <-d.ch:
					d.sink.Emit(context.Background(), record)
				default:
					return
				}
			}
		}
	}
}

func (d *decisionDispatcher) Emit(ctx context.Context, record DecisionRecord) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- record:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- record:
	case <-ctx.Done():
	case <-d.done:
	}
}

func (d *decisionDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *decisionDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
