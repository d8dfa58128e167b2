package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-nodeserver/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time for a single connection attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12

	// clientIDSuffixLen is how much of a random UUID is appended to the client ID.
	clientIDSuffixLen = 8
)

// Endpoint identifies the broker and this node server on it.
// It is built from the startup parameters the gateway hands us.
type Endpoint struct {
	Host       string
	Port       int
	ProfileNum int
	Username   string
	Password   string
}

// EndpointFromParams converts startup parameters into an Endpoint.
func EndpointFromParams(p *config.StartupParams) Endpoint {
	return Endpoint{
		Host:       p.Host,
		Port:       p.PortNumber(),
		ProfileNum: p.Profile(),
		Username:   p.Username,
		Password:   p.Password,
	}
}

// buildClientOptions creates paho MQTT options.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - A unique client ID derived from the profile number
//   - Authentication credentials (startup params win over config)
//   - Auto-reconnect with exponential backoff
//   - TLS configuration (if enabled)
//   - Clean session mode and ordered delivery
func buildClientOptions(cfg config.MQTTConfig, ep Endpoint) (*pahomqtt.ClientOptions, error) {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.TLS.Enabled {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, ep.Host, ep.Port))

	opts.SetClientID(buildClientID(cfg.ClientIDPrefix, ep.ProfileNum))

	username, password := ep.Username, ep.Password
	if username == "" {
		username, password = cfg.Auth.Username, cfg.Auth.Password
	}
	if username != "" {
		opts.SetUsername(username)
		opts.SetPassword(password)
	}

	opts.SetCleanSession(true)

	// Callbacks must run one at a time, in arrival order, for the session
	// layer's sequencing guarantees to hold.
	opts.SetOrderMatters(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.TLS.Enabled {
		tlsConfig, err := buildTLSConfig(cfg.TLS)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	return opts, nil
}

// buildClientID returns "<prefix>-<profile>-<random>". The random suffix keeps
// a restarted process from being kicked by its own stale session.
func buildClientID(prefix string, profileNum int) string {
	if prefix == "" {
		prefix = "nodeserver"
	}
	return fmt.Sprintf("%s-%d-%s", prefix, profileNum, uuid.NewString()[:clientIDSuffixLen])
}

// buildTLSConfig creates the TLS configuration for an ssl:// broker.
func buildTLSConfig(cfg config.MQTTTLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tlsMinVersion,
		// The gateway ships a self-signed certificate by default.
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // Operator controlled
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA file %s contains no certificates", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// configureLWT sets up Last Will and Testament for offline detection.
//
// If the process dies without a graceful Close, the broker publishes a
// retained "connected": false on our presence topic so the gateway sees the
// node server go away.
func configureLWT(opts *pahomqtt.ClientOptions, topic string, profileNum int) {
	opts.SetWill(topic, string(buildPresencePayload(profileNum, false)), 1, true)
}

// buildPresencePayload creates the JSON payload for presence announcements.
func buildPresencePayload(profileNum int, connected bool) []byte {
	return fmt.Appendf(nil, `{"node":"%d","connected":%t}`, profileNum, connected)
}
