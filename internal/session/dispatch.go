package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-nodeserver/internal/device"
)

// dispatch handles one queued item on the sequencer worker.
func (s *Session) dispatch(ctx context.Context, item Item) error {
	switch item.Kind {
	case keyConfig:
		return s.handleConfig(ctx, item.Payload)
	case keyQuery:
		return s.handleQuery(ctx, item.Payload)
	case keyCommand:
		return s.handleCommand(ctx, item.Payload)
	case keyStatus:
		s.events.emit(Event{Kind: EventStatus, Payload: item.Payload})
		return nil
	case keyShortPoll:
		s.events.emit(Event{Kind: EventPoll, Long: false})
		return nil
	case keyLongPoll:
		s.events.emit(Event{Kind: EventPoll, Long: true})
		return nil
	default:
		return fmt.Errorf("%w: unexpected queued kind %q", ErrProtocol, item.Kind)
	}
}

// handleConfig reconciles a snapshot and emits the config event unless the
// loop guard has tripped. A suppressed snapshot still updates the registry.
func (s *Session) handleConfig(ctx context.Context, payload json.RawMessage) error {
	snap, err := device.ParseSnapshot(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	result := s.registry.Reconcile(ctx, snap)

	if s.loopGuard.Hit() {
		s.logger.Error("config event suppressed",
			"error", ErrConfigLoopDetected,
			"count", s.loopGuard.Count())
		return nil
	}

	s.events.emit(Event{
		Kind: EventConfig,
		Config: &ConfigEvent{
			Devices:       result.Devices,
			ParamsChanged: result.ParamsChanged,
			CustomParams:  s.registry.CustomParams(),
			Notices:       s.registry.Notices(),
			Added:         result.Added,
			Removed:       result.Removed,
		},
	})
	return nil
}

// handleQuery reports the addressed device's attributes, or every device's
// when no address is given.
func (s *Session) handleQuery(ctx context.Context, payload json.RawMessage) error {
	var req targetedRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("%w: query: %w", ErrProtocol, err)
	}

	if req.Address == "" {
		for _, d := range s.registry.List() {
			if err := d.Query(ctx); err != nil {
				s.logger.Warn("query failed", "address", d.Address, "error", err)
			}
		}
		return nil
	}

	d, err := s.registry.Get(req.Address)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	return d.Query(ctx)
}

// handleCommand runs the named command on the addressed device and waits
// for it to finish.
func (s *Session) handleCommand(ctx context.Context, payload json.RawMessage) error {
	var cmd device.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("%w: command: %w", ErrProtocol, err)
	}
	cmd.Raw = payload

	d, err := s.registry.Get(cmd.Address)
	if err != nil {
		return fmt.Errorf("command %s: %w", cmd.Cmd, err)
	}

	s.logger.Debug("running command", "address", cmd.Address, "cmd", cmd.Cmd)
	return d.RunCommand(ctx, cmd)
}
