package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Item is one queued inbound message.
type Item struct {
	Kind    string
	Payload json.RawMessage
}

// ItemHandler processes one queued item. The sequencer waits for it to
// return before starting the next.
type ItemHandler func(ctx context.Context, item Item) error

// Sequencer is an unbounded FIFO queue drained by exactly one worker.
//
// Items are handled strictly in the order they were added and never
// concurrently. Handler errors and panics are logged and do not stop the
// queue. There is no backpressure limit.
type Sequencer struct {
	handler ItemHandler

	mu    sync.Mutex
	queue []Item

	wake      chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	logger Logger
}

// NewSequencer creates a sequencer. Call Start to begin draining.
func NewSequencer(handler ItemHandler, logger Logger) *Sequencer {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Sequencer{
		handler: handler,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		logger:  logger,
	}
}

// Start launches the worker. Subsequent calls are no-ops.
func (s *Sequencer) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.run(ctx)
	})
}

// Add appends an item and wakes the worker if it is idle.
// It returns false once the sequencer has been stopped.
func (s *Sequencer) Add(item Item) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	s.mu.Lock()
	s.queue = append(s.queue, item)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// Len returns the number of items waiting, excluding the one in flight.
func (s *Sequencer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Stop stops the worker. An item already being handled runs to completion;
// items still queued are discarded.
func (s *Sequencer) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()

		s.mu.Lock()
		dropped := len(s.queue)
		s.queue = nil
		s.mu.Unlock()

		if dropped > 0 {
			s.logger.Warn("sequencer stopped with queued items", "dropped", dropped)
		}
	})
}

// run is the worker loop: pop the head, await its handler, repeat.
func (s *Sequencer) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		item, ok := s.pop()
		if !ok {
			select {
			case <-s.wake:
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		if err := s.handle(ctx, item); err != nil {
			s.logger.Error("queued message failed",
				"kind", item.Kind,
				"pending", s.Len(),
				"error", err)
		}
	}
}

func (s *Sequencer) pop() (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return Item{}, false
	}
	item := s.queue[0]
	s.queue[0] = Item{}
	s.queue = s.queue[1:]
	return item, true
}

// handle runs the handler, converting a panic into an error.
func (s *Sequencer) handle(ctx context.Context, item Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler(ctx, item)
}
