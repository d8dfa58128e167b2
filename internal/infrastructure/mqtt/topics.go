package mqtt

import (
	"fmt"
	"strings"
)

// DefaultNamespace is the topic root used by the gateway.
const DefaultNamespace = "udi/polyglot"

// Topics provides builders for the node server topic hierarchy.
//
//	topics := mqtt.NewTopics("udi/polyglot")
//	topics.NodeServer(3)          // "udi/polyglot/ns/3"
//	topics.Connections("polyglot") // "udi/polyglot/connections/polyglot"
type Topics struct {
	namespace string
}

// NewTopics creates a builder rooted at namespace (trailing slashes trimmed).
func NewTopics(namespace string) Topics {
	namespace = strings.TrimRight(namespace, "/")
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return Topics{namespace: namespace}
}

// Namespace returns the topic root.
func (t Topics) Namespace() string {
	return t.namespace
}

// NodeServer returns the per-profile message topic. Both directions share it;
// the envelope's "node" field tells them apart.
//
// Example: udi/polyglot/ns/3
func (t Topics) NodeServer(profileNum int) string {
	return fmt.Sprintf("%s/ns/%d", t.namespace, profileNum)
}

// Connections returns the retained presence topic of a named participant.
//
// Example: udi/polyglot/connections/polyglot
func (t Topics) Connections(name string) string {
	return fmt.Sprintf("%s/connections/%s", t.namespace, name)
}

// Presence returns this node server's own presence topic.
//
// Example: udi/polyglot/connections/3
func (t Topics) Presence(profileNum int) string {
	return t.Connections(fmt.Sprintf("%d", profileNum))
}
