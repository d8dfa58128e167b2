package session

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-nodeserver/internal/device"
)

// ReportStatus publishes an attribute value and feeds the telemetry sink.
// It implements device.Host.
func (s *Session) ReportStatus(st device.Status) {
	s.Send(wireStatus, st)
	if s.telemetry != nil {
		s.telemetry.RecordStatus(st)
	}
}

// Logger returns the session logger for devices. It implements device.Host.
func (s *Session) Logger() device.Logger {
	return s.logger
}

// AddDevice asks the gateway to add d and waits for its acknowledgment.
// On success the device is registered locally and marked added.
// It implements device.Host.
func (s *Session) AddDevice(ctx context.Context, d *device.Device) error {
	reason, err := s.SendCorrelated(ctx, AddNodeKey(d.Address), wireAddNode, newAddNodeRequest(d), 0)
	if err != nil {
		return fmt.Errorf("adding device %s: %w", d.Address, err)
	}

	d.MarkAdded()
	s.registry.Add(ctx, d)
	s.logger.Info("device added by gateway", "address", d.Address, "reason", reason)
	return nil
}

// RemoveDevice asks the gateway to remove the device with the given address.
// The local registry drops it when the next snapshot no longer lists it.
func (s *Session) RemoveDevice(address string) {
	s.Send(wireRemoveNode, addressRequest{Address: address})
}

// SaveCustomParams replaces the node server's custom parameters.
func (s *Session) SaveCustomParams(params map[string]any) {
	s.Send(wireCustomParams, params)
}

// SaveTypedParams publishes the typed parameter definitions.
func (s *Session) SaveTypedParams(params any) {
	s.Send(wireTypedParams, params)
}

// SetCustomParamsDoc publishes the HTML help for custom parameters.
func (s *Session) SetCustomParamsDoc(html string) {
	s.Send(wireCustomParamsDoc, html)
}

// SaveCustomData replaces the opaque custom data blob.
func (s *Session) SaveCustomData(data any) {
	s.Send(wireCustomData, data)
}

// AddNotice shows a notice in the gateway UI.
func (s *Session) AddNotice(key, text string) {
	s.Send(wireAddNotice, noticeRequest{Key: key, Value: text})
}

// RemoveNotice removes one notice.
func (s *Session) RemoveNotice(key string) {
	s.Send(wireRemoveNotice, noticeRequest{Key: key})
}

// RemoveNoticesAll removes every notice listed in the last snapshot.
func (s *Session) RemoveNoticesAll() {
	for key := range s.registry.Notices() {
		s.RemoveNotice(key)
	}
}

// InstallProfile asks the gateway to reinstall the node server profile.
func (s *Session) InstallProfile(reboot bool) {
	s.Send(wireInstallProfile, installProfileRequest{Reboot: reboot})
}

// Restart asks the gateway to restart this node server.
func (s *Session) Restart() {
	s.Send(wireRestart, struct{}{})
}
