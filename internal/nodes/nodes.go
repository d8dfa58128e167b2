package nodes

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/nerrad567/gray-logic-nodeserver/internal/device"
)

// Type ids known to the gateway's profile.
const (
	ControllerType = "controller"
	SwitchType     = "switch"
)

// ControllerAddress is the fixed address of the controller device.
const ControllerAddress = "controller"

// Command names.
const (
	CmdDiscover         = "DISCOVER"
	CmdRemoveNoticesAll = "REMOVE_NOTICES_ALL"
	CmdOn               = "DON"
	CmdOff              = "DOF"
)

// maxDiscover bounds how many switches one DISCOVER may add.
const maxDiscover = 32

// noticeRemover is implemented by hosts that can clear gateway notices.
type noticeRemover interface {
	RemoveNoticesAll()
}

// Types returns the device types served by this node server.
func Types() []device.Type {
	return []device.Type{
		{ID: ControllerType, New: NewController},
		{ID: SwitchType, New: NewSwitch},
	}
}

// NewController creates the controller device. The controller is its own
// primary and reports ST=1 while the node server is running.
func NewController(host device.Host, address, primary, name string) (*device.Device, error) {
	if address == "" {
		address = ControllerAddress
	}
	if name == "" {
		name = "Node Server"
	}
	return device.New(host, device.Spec{
		TypeID:  ControllerType,
		Address: address,
		Primary: primary,
		Name:    name,
		Attributes: map[string]device.AttributeSpec{
			"ST": {Value: true, Unit: device.UnitBoolean},
		},
		Commands: map[string]device.CommandHandler{
			CmdDiscover:         discover,
			device.QueryCommand: queryController,
			CmdRemoveNoticesAll: removeNoticesAll,
		},
	})
}

// NewSwitch creates an on/off switch.
func NewSwitch(host device.Host, address, primary, name string) (*device.Device, error) {
	return device.New(host, device.Spec{
		TypeID:  SwitchType,
		Address: address,
		Primary: primary,
		Name:    name,
		Attributes: map[string]device.AttributeSpec{
			"ST": {Value: false, Unit: device.UnitBoolean},
		},
		Commands: map[string]device.CommandHandler{
			CmdOn: func(_ context.Context, d *device.Device, _ device.Command) error {
				return d.Set("ST", true)
			},
			CmdOff: func(_ context.Context, d *device.Device, _ device.Command) error {
				return d.Set("ST", false)
			},
		},
	})
}

// SwitchAddress returns the address of the n'th switch under a controller.
func SwitchAddress(controller string, n int) string {
	return fmt.Sprintf("%s_sw%d", controller, n)
}

// discover adds switches below the controller. The command value, when
// numeric, sets how many; the default is one. Each add waits for the
// gateway's acknowledgment; failures are collected and the rest continue.
func discover(ctx context.Context, d *device.Device, cmd device.Command) error {
	count := discoverCount(cmd.Value)
	log := d.Logger()

	var errs []error
	for i := 1; i <= count; i++ {
		address := SwitchAddress(d.Address, i)
		sw, err := NewSwitch(d.Host(), address, d.Address, fmt.Sprintf("Switch %d", i))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := d.Host().AddDevice(ctx, sw); err != nil {
			log.Warn("discovered switch not added", "address", address, "error", err)
			errs = append(errs, err)
		}
	}

	log.Info("discovery finished", "requested", count, "failed", len(errs))
	return errors.Join(errs...)
}

func discoverCount(value any) int {
	n := 1
	switch v := value.(type) {
	case float64:
		n = int(v)
	case string:
		if parsed, err := strconv.Atoi(v); err == nil {
			n = parsed
		}
	}
	return min(max(n, 1), maxDiscover)
}

// queryController marks the controller online and reports everything.
func queryController(_ context.Context, d *device.Device, _ device.Command) error {
	if err := d.SetAttribute("ST", true, false, false, nil); err != nil {
		return err
	}
	d.ReportAttributes(true)
	return nil
}

func removeNoticesAll(_ context.Context, d *device.Device, _ device.Command) error {
	remover, ok := d.Host().(noticeRemover)
	if !ok {
		return fmt.Errorf("%w: host cannot remove notices", device.ErrUnknownCommand)
	}
	remover.RemoveNoticesAll()
	return nil
}
