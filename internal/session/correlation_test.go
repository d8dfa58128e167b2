package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type sendResult struct {
	reason string
	err    error
}

func TestCorrelation_SettleSuccess(t *testing.T) {
	table := NewCorrelationTable(nil)
	key := AddNodeKey("sw1")

	reason, err := table.Send(context.Background(), key, time.Second, func() error {
		go table.Settle(key, true, "added")
		return nil
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if reason != "added" {
		t.Errorf("reason = %q, want %q", reason, "added")
	}
	if table.Pending() != 0 {
		t.Errorf("Pending() = %d after settle, want 0", table.Pending())
	}
}

func TestCorrelation_TimeoutVersusRejection(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		table := NewCorrelationTable(nil)
		_, err := table.Send(context.Background(), "k", 20*time.Millisecond, func() error { return nil })

		if !errors.Is(err, ErrCorrelationTimeout) {
			t.Fatalf("err = %v, want ErrCorrelationTimeout", err)
		}
		if errors.Is(err, ErrCorrelationRejected) {
			t.Error("timeout must not match ErrCorrelationRejected")
		}
		if table.Pending() != 0 {
			t.Errorf("Pending() = %d after timeout, want 0", table.Pending())
		}
	})

	t.Run("rejection", func(t *testing.T) {
		table := NewCorrelationTable(nil)
		_, err := table.Send(context.Background(), "k", time.Second, func() error {
			go table.Settle("k", false, "duplicate address")
			return nil
		})

		if !errors.Is(err, ErrCorrelationRejected) {
			t.Fatalf("err = %v, want ErrCorrelationRejected", err)
		}
		if errors.Is(err, ErrCorrelationTimeout) {
			t.Error("rejection must not match ErrCorrelationTimeout")
		}
		var rej *RejectionError
		if !errors.As(err, &rej) {
			t.Fatalf("err = %T, want *RejectionError", err)
		}
		if rej.Reason != "duplicate address" || rej.Key != "k" {
			t.Errorf("rejection = %+v", rej)
		}
	})

	t.Run("send error", func(t *testing.T) {
		table := NewCorrelationTable(nil)
		sendErr := errors.New("broker down")
		_, err := table.Send(context.Background(), "k", time.Second, func() error { return sendErr })

		if !errors.Is(err, sendErr) {
			t.Fatalf("err = %v, want send error", err)
		}
		if table.Pending() != 0 {
			t.Errorf("Pending() = %d after send error, want 0", table.Pending())
		}
	})
}

func TestCorrelation_SameKeySerialized(t *testing.T) {
	table := NewCorrelationTable(nil)
	key := AddNodeKey("sw1")

	var (
		mu       sync.Mutex
		sends    []string
		settled  time.Time
		secondAt time.Time
	)
	record := func(name string) func() error {
		return func() error {
			mu.Lock()
			defer mu.Unlock()
			sends = append(sends, name)
			if name == "second" {
				secondAt = time.Now()
			}
			return nil
		}
	}
	sendCount := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(sends)
	}

	first := make(chan sendResult, 1)
	go func() {
		r, err := table.Send(context.Background(), key, 2*time.Second, record("first"))
		first <- sendResult{r, err}
	}()
	waitFor(t, time.Second, "first request sent", func() bool { return sendCount() == 1 })

	second := make(chan sendResult, 1)
	go func() {
		r, err := table.Send(context.Background(), key, 2*time.Second, record("second"))
		second <- sendResult{r, err}
	}()

	// The second request must not go out while the first is unsettled.
	time.Sleep(50 * time.Millisecond)
	if n := sendCount(); n != 1 {
		t.Fatalf("sends = %d before first settled, want 1", n)
	}

	mu.Lock()
	settled = time.Now()
	mu.Unlock()
	table.Settle(key, true, "one")

	if res := <-first; res.err != nil || res.reason != "one" {
		t.Fatalf("first = %+v, want success %q", res, "one")
	}

	waitFor(t, time.Second, "second request sent", func() bool { return sendCount() == 2 })
	mu.Lock()
	if secondAt.Before(settled) {
		t.Error("second request sent before the first settled")
	}
	if sends[0] != "first" || sends[1] != "second" {
		t.Errorf("sends = %v", sends)
	}
	mu.Unlock()

	table.Settle(key, false, "two")
	res := <-second
	if !errors.Is(res.err, ErrCorrelationRejected) {
		t.Errorf("second err = %v, want rejection", res.err)
	}
}

func TestCorrelation_DistinctKeysIndependent(t *testing.T) {
	table := NewCorrelationTable(nil)

	blocked := make(chan sendResult, 1)
	go func() {
		r, err := table.Send(context.Background(), "a", 2*time.Second, func() error { return nil })
		blocked <- sendResult{r, err}
	}()
	waitFor(t, time.Second, "key a pending", func() bool { return table.Pending() == 1 })

	_, err := table.Send(context.Background(), "b", time.Second, func() error {
		go table.Settle("b", true, "")
		return nil
	})
	if err != nil {
		t.Fatalf("key b error = %v", err)
	}

	table.Settle("a", true, "")
	if res := <-blocked; res.err != nil {
		t.Errorf("key a error = %v", res.err)
	}
}

func TestCorrelation_ContextCancelled(t *testing.T) {
	table := NewCorrelationTable(nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := table.Send(ctx, "k", 5*time.Second, func() error { return nil })
		done <- err
	}()
	waitFor(t, time.Second, "request pending", func() bool { return table.Pending() == 1 })

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Send did not return after cancel")
	}
}

func TestCorrelation_SettleUnknownKey(t *testing.T) {
	table := NewCorrelationTable(nil)
	if table.Settle("nobody", true, "") {
		t.Error("Settle for unknown key should report false")
	}
}

func TestCorrelation_HandleResult(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
		reason  string
	}{
		{
			name:    "success",
			payload: `{"addnode":{"success":true,"reason":"AddNode: n003_sw1 added","address":"sw1"}}`,
			reason:  "AddNode: n003_sw1 added",
		},
		{
			name:    "failure",
			payload: `{"addnode":{"success":false,"reason":"invalid node def","address":"sw1"}}`,
			wantErr: ErrCorrelationRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := NewCorrelationTable(nil)
			key := AddNodeKey("sw1")

			reason, err := table.Send(context.Background(), key, time.Second, func() error {
				go table.HandleResult(json.RawMessage(tt.payload))
				return nil
			})

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("err = %v", err)
			}
			if reason != tt.reason {
				t.Errorf("reason = %q, want %q", reason, tt.reason)
			}
		})
	}
}

func TestCorrelation_HandleResultIgnoresOtherMembers(t *testing.T) {
	table := NewCorrelationTable(nil)
	table.HandleResult(json.RawMessage(`{"removenode":{"success":true},"status":{"x":1}}`))
	table.HandleResult(json.RawMessage(`not json`))
	table.HandleResult(json.RawMessage(`{"addnode":{"success":true,"address":"ghost"}}`))

	if table.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", table.Pending())
	}
}
