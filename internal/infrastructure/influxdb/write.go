package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-nodeserver/internal/device"
)

// Measurement written for every attribute report.
const statusMeasurement = "attribute_status"

// RecordStatus writes one attribute report. The write is non-blocking.
// It implements session.StatusRecorder.
func (c *Client) RecordStatus(st device.Status) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(statusPoint(c.profile, st, time.Now()))
}

// statusPoint builds the point for an attribute report.
//
// Tags: profile, address, driver, uom. Fields: value (the wire string) and,
// when the value parses as a number, numeric (float).
func statusPoint(profile string, st device.Status, ts time.Time) *write.Point {
	tags := map[string]string{
		"profile": profile,
		"address": st.Address,
		"driver":  st.Driver,
		"uom":     strconv.Itoa(st.Unit),
	}
	fields := map[string]interface{}{
		"value": st.Value,
	}
	if f, err := strconv.ParseFloat(st.Value, 64); err == nil {
		fields["numeric"] = f
	}
	return write.NewPoint(statusMeasurement, tags, fields, ts)
}
