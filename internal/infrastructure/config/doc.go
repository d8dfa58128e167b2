// Package config handles loading and validating node server configuration.
//
// This package manages:
//   - Loading tuning configuration from an optional YAML file
//   - Loading a .env file and overriding with environment variables
//   - Validation of required fields
//   - Reading the one-shot startup parameters from stdin
//
// The gateway launches the node server and writes a single JSON line to its
// stdin carrying the broker address and the profile number. Everything else
// (namespace, timeouts, logging, optional storage) comes from the YAML file
// or its defaults.
//
// Usage:
//
//	params, err := config.ReadStartupParams(os.Stdin, 2*time.Second)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg, err := config.Load(os.Getenv("NODESERVER_CONFIG"))
package config
