package config

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Startup input errors.
var (
	// ErrStartupTimeout is returned when no startup line arrives in time.
	ErrStartupTimeout = errors.New("config: startup parameters not received")

	// ErrInvalidStartup is returned when the startup line cannot be used.
	ErrInvalidStartup = errors.New("config: invalid startup parameters")
)

// StartupParams is the JSON object the gateway writes to our stdin once,
// as a single newline-terminated line, when it launches the node server.
type StartupParams struct {
	Host       string  `json:"mqttHost"`
	Port       flexInt `json:"mqttPort"`
	ProfileNum flexInt `json:"profileNum"`
	Username   string  `json:"username,omitempty"`
	Password   string  `json:"password,omitempty"`
}

// flexInt decodes either a JSON number or a numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("not a number: %q", s)
		}
		*f = flexInt(n)
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

// ReadStartupParams reads the first line from r and decodes it.
//
// The read runs in its own goroutine so the deadline is honoured even when r
// never produces data; that goroutine is abandoned on timeout.
//
// Parameters:
//   - r: Startup input stream (stdin in production)
//   - timeout: How long to wait for the line
//
// Returns:
//   - *StartupParams: Decoded parameters
//   - error: ErrStartupTimeout or ErrInvalidStartup (wrapped)
func ReadStartupParams(r io.Reader, timeout time.Duration) (*StartupParams, error) {
	type result struct {
		line []byte
		err  error
	}

	ch := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(r).ReadBytes('\n')
		if errors.Is(err, io.EOF) && len(bytes.TrimSpace(line)) > 0 {
			err = nil
		}
		ch <- result{line: line, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil, fmt.Errorf("%w: no input within %v", ErrStartupTimeout, timeout)
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidStartup, res.err)
		}
		return ParseStartupParams(res.line)
	}
}

// ParseStartupParams decodes and validates a startup line.
func ParseStartupParams(line []byte) (*StartupParams, error) {
	var p StartupParams
	if err := json.Unmarshal(bytes.TrimSpace(line), &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidStartup, err)
	}

	var errs []string
	if p.Host == "" {
		errs = append(errs, "mqttHost is required")
	}
	if p.Port < 1 || p.Port > 65535 {
		errs = append(errs, "mqttPort must be between 1 and 65535")
	}
	if p.ProfileNum < 1 {
		errs = append(errs, "profileNum must be positive")
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStartup, strings.Join(errs, "; "))
	}

	return &p, nil
}

// PortNumber returns the broker port as an int.
func (p *StartupParams) PortNumber() int {
	return int(p.Port)
}

// Profile returns the profile number as an int.
func (p *StartupParams) Profile() int {
	return int(p.ProfileNum)
}
