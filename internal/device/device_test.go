package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// =============================================================================
// Test Helpers
// =============================================================================

// recordingLogger captures log calls by level.
type recordingLogger struct {
	mu    sync.Mutex
	warns []string
	errs  []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Info(string, ...any)  {}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errs = append(l.errs, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) warnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warns)
}

// mockHost records status reports and add requests.
type mockHost struct {
	mu       sync.Mutex
	statuses []Status
	added    []*Device
	addErr   error
	log      *recordingLogger
}

func newMockHost() *mockHost {
	return &mockHost{log: &recordingLogger{}}
}

func (h *mockHost) ReportStatus(s Status) {
	h.mu.Lock()
	h.statuses = append(h.statuses, s)
	h.mu.Unlock()
}

func (h *mockHost) AddDevice(_ context.Context, d *Device) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.addErr != nil {
		return h.addErr
	}
	h.added = append(h.added, d)
	return nil
}

func (h *mockHost) Logger() Logger { return h.log }

func (h *mockHost) reports() []Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Status(nil), h.statuses...)
}

const (
	testUnitPercent = 51
	testUnitRaw     = 56
)

// newSwitch builds a device with a boolean ST and a numeric level.
func newSwitch(host Host, address, primary, name string) (*Device, error) {
	return New(host, Spec{
		TypeID:  "switch",
		Address: address,
		Primary: primary,
		Name:    name,
		Attributes: map[string]AttributeSpec{
			"ST":  {Value: 0, Unit: UnitBoolean},
			"GV1": {Value: 0, Unit: testUnitPercent},
		},
		Commands: map[string]CommandHandler{
			"DON": func(_ context.Context, d *Device, _ Command) error {
				return d.Set("ST", true)
			},
			"DOF": func(_ context.Context, d *Device, _ Command) error {
				return d.Set("ST", false)
			},
			"FAIL": func(context.Context, *Device, Command) error {
				return errors.New("hardware unreachable")
			},
		},
	})
}

func mustSwitch(t *testing.T, host Host) *Device {
	t.Helper()
	d, err := newSwitch(host, "sw1", "", "Switch 1")
	if err != nil {
		t.Fatalf("newSwitch() error = %v", err)
	}
	return d
}

// =============================================================================
// Construction
// =============================================================================

func TestNew(t *testing.T) {
	host := newMockHost()
	d := mustSwitch(t, host)

	if d.Primary != "sw1" {
		t.Errorf("Primary = %q, want self-reference %q", d.Primary, "sw1")
	}
	if !d.Enabled() {
		t.Error("Enabled() = false, want true")
	}
	if d.TimeAdded().IsZero() {
		t.Error("TimeAdded() is zero")
	}
	a, ok := d.Attribute("ST")
	if !ok || a.Value != "0" || a.Unit != UnitBoolean || a.Changed {
		t.Errorf("Attribute(ST) = %+v, %v", a, ok)
	}
	if d.Host() != host {
		t.Error("Host() did not return the construction host")
	}
}

func TestNew_RequiresAddress(t *testing.T) {
	_, err := New(nil, Spec{TypeID: "x"})
	if !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("New() error = %v, want ErrInvalidDevice", err)
	}
}

// =============================================================================
// SetAttribute / ReportAttribute
// =============================================================================

func TestSetAttribute_ReportsOnlyOnChange(t *testing.T) {
	host := newMockHost()
	d := mustSwitch(t, host)

	if err := d.Set("GV1", 42); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got := host.reports()
	if len(got) != 1 {
		t.Fatalf("reports = %d, want 1", len(got))
	}
	want := Status{Address: "sw1", Driver: "GV1", Value: "42", Unit: testUnitPercent}
	if got[0] != want {
		t.Errorf("report = %+v, want %+v", got[0], want)
	}

	if err := d.Set("GV1", 42); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if n := len(host.reports()); n != 1 {
		t.Errorf("reports after same value = %d, want 1", n)
	}

	a, _ := d.Attribute("GV1")
	if a.Changed {
		t.Error("Changed = true after report, want false")
	}
}

func TestSetAttribute_Coercion(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"int", 7, "7"},
		{"int64", int64(-3), "-3"},
		{"uint8", uint8(200), "200"},
		{"float64 fraction", 21.5, "21.5"},
		{"float64 whole", 20.0, "20"},
		{"float32", float32(0.25), "0.25"},
		{"string passthrough", "on", "on"},
		{"true", true, "1"},
		{"false", false, "0"},
		{"other", []int{1, 2}, "[1 2]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := mustSwitch(t, newMockHost())
			if err := d.SetAttribute("GV1", tt.value, false, false, nil); err != nil {
				t.Fatalf("SetAttribute() error = %v", err)
			}
			a, _ := d.Attribute("GV1")
			if a.Value != tt.want {
				t.Errorf("Value = %q, want %q", a.Value, tt.want)
			}
		})
	}
}

func TestSetAttribute_BoolOnNonBooleanUnit(t *testing.T) {
	host := newMockHost()
	d := mustSwitch(t, host)

	if err := d.Set("GV1", true); err != nil {
		t.Fatalf("Set(true) error = %v", err)
	}
	if err := d.Set("GV1", false); err != nil {
		t.Fatalf("Set(false) error = %v", err)
	}

	got := host.reports()
	if len(got) != 2 || got[0].Value != "1" || got[1].Value != "0" {
		t.Errorf("reports = %+v, want values 1 then 0", got)
	}
	if n := host.log.warnCount(); n != 2 {
		t.Errorf("warnings = %d, want 2", n)
	}
}

func TestSetAttribute_BoolOnBooleanUnitDoesNotWarn(t *testing.T) {
	host := newMockHost()
	d := mustSwitch(t, host)

	if err := d.Set("ST", true); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if n := host.log.warnCount(); n != 0 {
		t.Errorf("warnings = %d, want 0", n)
	}
}

func TestSetAttribute_UnitChangeMarksChanged(t *testing.T) {
	host := newMockHost()
	d := mustSwitch(t, host)

	unit := testUnitRaw
	if err := d.SetAttribute("GV1", 0, true, false, &unit); err != nil {
		t.Fatalf("SetAttribute() error = %v", err)
	}
	got := host.reports()
	if len(got) != 1 || got[0].Unit != testUnitRaw {
		t.Errorf("reports = %+v, want one report with uom %d", got, testUnitRaw)
	}
}

func TestSetAttribute_UnknownAttribute(t *testing.T) {
	d := mustSwitch(t, newMockHost())
	err := d.Set("GV9", 1)
	if !errors.Is(err, ErrUnknownAttribute) {
		t.Errorf("Set() error = %v, want ErrUnknownAttribute", err)
	}
	if _, ok := d.Attribute("GV9"); ok {
		t.Error("unknown attribute was added to the device")
	}
}

func TestSetAttribute_NoReport(t *testing.T) {
	host := newMockHost()
	d := mustSwitch(t, host)

	if err := d.SetAttribute("GV1", 5, false, false, nil); err != nil {
		t.Fatalf("SetAttribute() error = %v", err)
	}
	if n := len(host.reports()); n != 0 {
		t.Fatalf("reports = %d, want 0", n)
	}

	// The pending change is reported on the next ReportAttribute.
	if err := d.ReportAttribute("GV1", false); err != nil {
		t.Fatalf("ReportAttribute() error = %v", err)
	}
	if n := len(host.reports()); n != 1 {
		t.Errorf("reports = %d, want 1", n)
	}
}

func TestReportAttribute_Force(t *testing.T) {
	host := newMockHost()
	d := mustSwitch(t, host)

	if err := d.ReportAttribute("ST", false); err != nil {
		t.Fatalf("ReportAttribute() error = %v", err)
	}
	if n := len(host.reports()); n != 0 {
		t.Errorf("unforced report of unchanged attribute published %d", n)
	}

	if err := d.ReportAttribute("ST", true); err != nil {
		t.Fatalf("ReportAttribute(force) error = %v", err)
	}
	if n := len(host.reports()); n != 1 {
		t.Errorf("forced report published %d, want 1", n)
	}
}

func TestReportAttributes_Order(t *testing.T) {
	host := newMockHost()
	d := mustSwitch(t, host)

	d.ReportAttributes(true)
	got := host.reports()
	if len(got) != 2 || got[0].Driver != "GV1" || got[1].Driver != "ST" {
		t.Errorf("reports = %+v, want GV1 then ST", got)
	}
}

// =============================================================================
// Commands
// =============================================================================

func TestRunCommand(t *testing.T) {
	host := newMockHost()
	d := mustSwitch(t, host)
	ctx := context.Background()

	if err := d.RunCommand(ctx, Command{Address: "sw1", Cmd: "DON"}); err != nil {
		t.Fatalf("RunCommand(DON) error = %v", err)
	}
	if a, _ := d.Attribute("ST"); a.Value != "1" {
		t.Errorf("ST = %q after DON, want 1", a.Value)
	}

	err := d.RunCommand(ctx, Command{Address: "sw1", Cmd: "BLINK"})
	if !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("RunCommand(BLINK) error = %v, want ErrUnknownCommand", err)
	}

	if err := d.RunCommand(ctx, Command{Cmd: "FAIL"}); err == nil {
		t.Error("RunCommand(FAIL) error = nil, want handler error")
	}
}

func TestQuery(t *testing.T) {
	t.Run("default forces full report", func(t *testing.T) {
		host := newMockHost()
		d := mustSwitch(t, host)
		if err := d.Query(context.Background()); err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		if n := len(host.reports()); n != 2 {
			t.Errorf("reports = %d, want 2", n)
		}
	})

	t.Run("type handler overrides", func(t *testing.T) {
		called := 0
		d, err := New(newMockHost(), Spec{
			Address:    "q1",
			Attributes: map[string]AttributeSpec{"ST": {Value: 0, Unit: UnitBoolean}},
			Commands: map[string]CommandHandler{
				QueryCommand: func(context.Context, *Device, Command) error {
					called++
					return nil
				},
			},
		})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if err := d.Query(context.Background()); err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		if called != 1 {
			t.Errorf("QUERY handler called %d times, want 1", called)
		}
	})
}

// =============================================================================
// TypeRegistry
// =============================================================================

func TestTypeRegistry(t *testing.T) {
	types, err := NewTypeRegistry(Type{ID: "switch", New: newSwitch})
	if err != nil {
		t.Fatalf("NewTypeRegistry() error = %v", err)
	}

	d, err := types.New(newMockHost(), "switch", "a1", "a1", "A1")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if d.TypeID != "switch" {
		t.Errorf("TypeID = %q, want switch", d.TypeID)
	}

	if _, err := types.New(nil, "dimmer", "a2", "a2", ""); !errors.Is(err, ErrUnknownDeviceType) {
		t.Errorf("New(dimmer) error = %v, want ErrUnknownDeviceType", err)
	}
	if !types.Has("switch") || types.Has("dimmer") {
		t.Error("Has() returned wrong membership")
	}
	if ids := types.IDs(); fmt.Sprint(ids) != "[switch]" {
		t.Errorf("IDs() = %v", ids)
	}
}

func TestTypeRegistry_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		types []Type
		want  error
	}{
		{"duplicate", []Type{{ID: "a", New: newSwitch}, {ID: "a", New: newSwitch}}, ErrDuplicateType},
		{"empty id", []Type{{New: newSwitch}}, ErrInvalidDevice},
		{"nil constructor", []Type{{ID: "a"}}, ErrInvalidDevice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTypeRegistry(tt.types...); !errors.Is(err, tt.want) {
				t.Errorf("NewTypeRegistry() error = %v, want %v", err, tt.want)
			}
		})
	}
}
