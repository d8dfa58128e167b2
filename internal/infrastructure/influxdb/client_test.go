package influxdb

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-nodeserver/internal/device"
	"github.com/nerrad567/gray-logic-nodeserver/internal/infrastructure/config"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "nodeserver-dev-token",
		Org:           "nodeserver",
		Bucket:        "attributes",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// skipIfNoInfluxDB skips the test if InfluxDB is not running.
func skipIfNoInfluxDB(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") != "" {
		return
	}
	client, err := Connect(context.Background(), testConfig(), 3)
	if err != nil {
		t.Skip("InfluxDB not available, skipping integration test")
	}
	client.Close()
}

// =============================================================================
// Point Construction Tests
// =============================================================================

func TestStatusPoint(t *testing.T) {
	ts := time.Unix(1700000000, 0)

	tests := []struct {
		name        string
		status      device.Status
		wantPrefix  string
		wantFields  []string
		wantNumeric bool
	}{
		{
			name:        "numeric value",
			status:      device.Status{Address: "sw1", Driver: "GV1", Value: "21.5", Unit: 4},
			wantPrefix:  "attribute_status,address=sw1,driver=GV1,profile=3,uom=4 ",
			wantFields:  []string{"numeric=21.5", `value="21.5"`},
			wantNumeric: true,
		},
		{
			name:       "text value",
			status:     device.Status{Address: "sw1", Driver: "GV2", Value: "idle", Unit: 25},
			wantPrefix: "attribute_status,address=sw1,driver=GV2,profile=3,uom=25 ",
			wantFields: []string{`value="idle"`},
		},
		{
			name:       "empty value",
			status:     device.Status{Address: "ctl", Driver: "ST", Value: "", Unit: 2},
			wantPrefix: "attribute_status,address=ctl,driver=ST,profile=3,uom=2 ",
			wantFields: []string{`value=""`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := write.PointToLineProtocol(statusPoint("3", tt.status, ts), time.Second)

			if !strings.HasPrefix(line, tt.wantPrefix) {
				t.Errorf("line = %q, want prefix %q", line, tt.wantPrefix)
			}
			for _, f := range tt.wantFields {
				if !strings.Contains(line, f) {
					t.Errorf("line = %q, missing field %q", line, f)
				}
			}
			if got := strings.Contains(line, "numeric="); got != tt.wantNumeric {
				t.Errorf("numeric field present = %v, want %v", got, tt.wantNumeric)
			}
			if !strings.HasSuffix(strings.TrimSpace(line), " 1700000000") {
				t.Errorf("line = %q, want timestamp 1700000000", line)
			}
		})
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	client, err := Connect(context.Background(), cfg, 3)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
	if client != nil {
		t.Error("Connect() returned a client when disabled")
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	_, err := Connect(context.Background(), cfg, 3)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClose_Nil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client = %v", err)
	}
	if c.IsConnected() {
		t.Error("nil client reports connected")
	}
}

func TestRecordStatus_NotConnected(t *testing.T) {
	c := &Client{profile: "3"}

	// Must not touch the nil write API.
	c.RecordStatus(device.Status{Address: "sw1", Driver: "ST", Value: "1", Unit: 2})
	c.Flush()

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Integration Tests
// =============================================================================

func TestConnect(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := Connect(context.Background(), testConfig(), 3)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestRecordStatus(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := Connect(context.Background(), testConfig(), 3)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	errCh := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	client.RecordStatus(device.Status{Address: "sw1", Driver: "ST", Value: "1", Unit: 2})
	client.RecordStatus(device.Status{Address: "sw1", Driver: "GV1", Value: "75", Unit: 51})
	client.Flush()

	select {
	case err := <-errCh:
		t.Errorf("async write error = %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClose(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := Connect(context.Background(), testConfig(), 3)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}

	// Writes after close are dropped silently.
	client.RecordStatus(device.Status{Address: "sw1", Driver: "ST", Value: "0", Unit: 2})
}
