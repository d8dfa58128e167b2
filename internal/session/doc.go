// Package session implements the node server's side of the gateway's
// device bus.
//
// A Session subscribes to its own topic and to the gateway's presence topic,
// then classifies every inbound envelope:
//
//	result, stop, delete          handled on receipt
//	config, query, command,       queued on the Sequencer and handled one at
//	status, shortPoll, longPoll   a time, in arrival order
//
// Outbound messages go out on the same topic with a "node" field carrying
// the profile number. Requests that need an acknowledgment (adding a device)
// go through the CorrelationTable, which serialises requests per key and
// distinguishes a timeout from a rejection.
//
// Snapshots ("config") are reconciled into the device.Registry. A LoopGuard
// counts snapshots over a sliding window; while it is tripped the registry is
// still updated but the config event is not emitted, so observers can be
// stale until the window lapses.
//
// Usage:
//
//	sess, err := session.New(session.Options{
//	    Client:     mqttClient,
//	    Types:      types,
//	    ProfileNum: params.Profile(),
//	    Logger:     log,
//	})
//	if err != nil {
//	    return err
//	}
//	sess.On(session.EventConfig, func(ev session.Event) { ... })
//	sess.On(session.EventStop, func(session.Event) { cancel() })
//
//	_ = sess.Start(ctx)
//	defer sess.Close()
//
// Nothing in this package terminates the process; the hosting application
// decides what to do on stop, delete and ended events.
package session
