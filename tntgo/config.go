package tntgo

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ClientConfig configures how a Connector reaches a server, in the
// style of dKV's rpc/common.ClientConfig.
type ClientConfig struct {
	Endpoint      string        // "host:port"
	TimeoutMillis int           // 0 means no timeout
	User          string        // empty means skip auth
	Password      string        // already-plaintext; scramble computation is the caller's job
}

// Timeout returns TimeoutMillis as a time.Duration, or 0 if unset.
func (c ClientConfig) Timeout() time.Duration {
	if c.TimeoutMillis <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

// String renders the configuration for logging, omitting the password.
func (c ClientConfig) String() string {
	var sb strings.Builder
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-16s: %s\n", name, value))
	}
	sb.WriteString("CONNECTION\n")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", strconv.Itoa(c.TimeoutMillis)+" ms")
	if c.User != "" {
		addField("User", c.User)
	}
	return sb.String()
}
