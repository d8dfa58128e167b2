package session

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/nerrad567/gray-logic-nodeserver/internal/device"
)

// Outbound wire keys. Every outbound envelope carries "node" plus exactly one
// of these.
const (
	wireAddNode         = "addnode"
	wireRemoveNode      = "removenode"
	wireCustomParams    = "customparams"
	wireTypedParams     = "typedparams"
	wireCustomParamsDoc = "customparamsdoc"
	wireCustomData      = "customdata"
	wireAddNotice       = "addnotice"
	wireRemoveNotice    = "removenotice"
	wireInstallProfile  = "installprofile"
	wireRestart         = "restart"
	wireStatus          = "status"
)

// Inbound message keys.
const (
	keyNode      = "node"
	keyResult    = "result"
	keyStop      = "stop"
	keyDelete    = "delete"
	keyConfig    = "config"
	keyQuery     = "query"
	keyCommand   = "command"
	keyStatus    = "status"
	keyShortPoll = "shortPoll"
	keyLongPoll  = "longPoll"
)

// immediateKeys are handled on receipt, in this order.
var immediateKeys = []string{keyResult, keyStop, keyDelete}

// queuedKeys go through the sequencer, in this order.
var queuedKeys = []string{keyConfig, keyQuery, keyCommand, keyStatus, keyShortPoll, keyLongPoll}

func isKnownKey(key string) bool {
	switch key {
	case keyNode, keyResult, keyStop, keyDelete, keyConfig, keyQuery,
		keyCommand, keyStatus, keyShortPoll, keyLongPoll:
		return true
	}
	return false
}

// nodeDriver is one attribute in an addnode request.
type nodeDriver struct {
	Driver string `json:"driver"`
	Value  string `json:"value"`
	Unit   int    `json:"uom"`
}

// nodeDefinition is the wire form of a device in an addnode request.
type nodeDefinition struct {
	Address string       `json:"address"`
	Name    string       `json:"name"`
	TypeID  string       `json:"node_def_id"`
	Primary string       `json:"primary"`
	Drivers []nodeDriver `json:"drivers"`
}

type addNodeRequest struct {
	Nodes []nodeDefinition `json:"nodes"`
}

func newAddNodeRequest(d *device.Device) addNodeRequest {
	attrs := d.Attributes()
	drivers := make([]nodeDriver, 0, len(attrs))
	for _, name := range d.AttributeNames() {
		a := attrs[name]
		drivers = append(drivers, nodeDriver{Driver: name, Value: a.Value, Unit: a.Unit})
	}
	return addNodeRequest{Nodes: []nodeDefinition{{
		Address: d.Address,
		Name:    d.Name,
		TypeID:  d.TypeID,
		Primary: d.Primary,
		Drivers: drivers,
	}}}
}

type addressRequest struct {
	Address string `json:"address"`
}

type noticeRequest struct {
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

type installProfileRequest struct {
	Reboot bool `json:"reboot"`
}

// presenceMessage is published retained on a presence topic.
type presenceMessage struct {
	Node      string `json:"node"`
	Connected bool   `json:"connected"`
}

// targetedRequest is the payload of inbound query and status messages.
type targetedRequest struct {
	Address string `json:"address"`
}

// rawString decodes a JSON string, or the literal of a JSON number.
func rawString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func nodeID(profileNum int) string {
	return strconv.Itoa(profileNum)
}
