// Package nodes defines the device types this node server exposes: a
// controller that discovers switches, and the switches themselves.
package nodes
