package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// DefaultRequestTimeout is how long a correlated request waits for its result.
const DefaultRequestTimeout = 15 * time.Second

// AddNodeKey returns the correlation key of an add-device request.
func AddNodeKey(address string) string {
	return "addnode-" + address
}

// pendingRequest is one outstanding correlated request.
type pendingRequest struct {
	key    string
	result chan settlement
	done   chan struct{}
}

type settlement struct {
	reason string
	err    error
}

// CorrelationTable pairs outbound requests with their asynchronous results.
//
// At most one request per key is outstanding. A request for a key that is in
// use waits for the earlier one to settle, whatever its outcome, before it
// is sent.
type CorrelationTable struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest

	logger Logger
}

// NewCorrelationTable creates an empty table.
func NewCorrelationTable(logger Logger) *CorrelationTable {
	if logger == nil {
		logger = noopLogger{}
	}
	return &CorrelationTable{
		pending: make(map[string]*pendingRequest),
		logger:  logger,
	}
}

// Send registers key, calls send, and waits for the matching Settle.
//
// Parameters:
//   - ctx: Cancels the wait (for the key or for the result)
//   - key: Correlation key, e.g. AddNodeKey(address)
//   - timeout: Result deadline, counted from the send; <= 0 uses DefaultRequestTimeout
//   - send: Publishes the request
//
// Returns:
//   - string: Reason given by the gateway on success
//   - error: ErrCorrelationTimeout, *RejectionError, the send error, or ctx.Err()
func (t *CorrelationTable) Send(ctx context.Context, key string, timeout time.Duration, send func() error) (string, error) {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	req, err := t.acquire(ctx, key)
	if err != nil {
		return "", err
	}
	defer t.release(req)

	if err := send(); err != nil {
		return "", err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s := <-req.result:
		return s.reason, s.err
	case <-timer.C:
		return "", fmt.Errorf("%w: %s after %v", ErrCorrelationTimeout, key, timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// acquire waits until key is free and registers a new request for it.
func (t *CorrelationTable) acquire(ctx context.Context, key string) (*pendingRequest, error) {
	for {
		t.mu.Lock()
		prior, busy := t.pending[key]
		if !busy {
			req := &pendingRequest{
				key:    key,
				result: make(chan settlement, 1),
				done:   make(chan struct{}),
			}
			t.pending[key] = req
			t.mu.Unlock()
			return req, nil
		}
		t.mu.Unlock()

		t.logger.Debug("correlated request waiting for prior", "key", key)
		select {
		case <-prior.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (t *CorrelationTable) release(req *pendingRequest) {
	t.mu.Lock()
	if t.pending[req.key] == req {
		delete(t.pending, req.key)
	}
	t.mu.Unlock()
	close(req.done)
}

// Settle resolves the request registered under key. It reports whether a
// request was waiting.
func (t *CorrelationTable) Settle(key string, success bool, reason string) bool {
	t.mu.Lock()
	req, ok := t.pending[key]
	t.mu.Unlock()
	if !ok {
		return false
	}

	s := settlement{reason: reason}
	if !success {
		s.err = &RejectionError{Key: key, Reason: reason}
	}
	select {
	case req.result <- s:
	default:
		// Already settled; a duplicate result is ignored.
	}
	return true
}

// Pending returns the number of outstanding requests.
func (t *CorrelationTable) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// addNodeResult is the "addnode" member of a result message.
type addNodeResult struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
	Address string `json:"address"`
}

// HandleResult settles requests from the payload of a "result" message.
// Only add-device acknowledgments are correlated; any other member is
// logged and ignored.
func (t *CorrelationTable) HandleResult(payload json.RawMessage) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(payload, &members); err != nil {
		t.logger.Warn("result message dropped", "error", fmt.Errorf("%w: %w", ErrProtocol, err))
		return
	}

	for name, raw := range members {
		if name != wireAddNode {
			t.logger.Info("uncorrelated result", "type", name, "result", string(raw))
			continue
		}

		var res addNodeResult
		if err := json.Unmarshal(raw, &res); err != nil {
			t.logger.Warn("addnode result dropped", "error", fmt.Errorf("%w: %w", ErrProtocol, err))
			continue
		}

		key := AddNodeKey(res.Address)
		if !t.Settle(key, res.Success, res.Reason) {
			t.logger.Debug("addnode result without pending request", "address", res.Address)
		}
	}
}
