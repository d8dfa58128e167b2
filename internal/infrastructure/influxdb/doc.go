// Package influxdb records device attribute reports in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Every status the node
// server publishes can also be written here as an "attribute_status" point,
// tagged by profile, device address, driver and unit.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, params.Profile())
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.RecordStatus(device.Status{Address: "sw1", Driver: "ST", Value: "1", Unit: 2})
//
// The client is optional: when influxdb.enabled is false Connect returns
// ErrDisabled and the session runs without telemetry.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are batched according to
// batch_size and flush_interval.
package influxdb
