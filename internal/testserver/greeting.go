// Package testserver is a minimal in-memory IPROTO server used by
// tntgo's integration tests: it speaks just enough of the wire protocol
// (greeting, PING, INSERT/REPLACE/SELECT/DELETE, CALL, and a scriptable
// error response) to exercise Connection/Connector against a real
// socket instead of a mock.
package testserver

import (
	"encoding/base64"

	"github.com/vkolb/tntgo/iproto"
)

// buildGreeting renders the 128-byte banner a server sends immediately
// after accepting a connection, matching the two-line, space-padded
// shape iproto.ParseGreeting expects.
func buildGreeting(salt []byte) [iproto.GreetingSize]byte {
	var raw [iproto.GreetingSize]byte
	for i := range raw {
		raw[i] = ' '
	}

	line1 := "Tarantool 2.11.0 (Binary)"
	line2 := base64.StdEncoding.EncodeToString(salt)

	copy(raw[:], line1)
	raw[len(line1)] = '\n'
	copy(raw[len(line1)+1:], line2)
	raw[len(line1)+1+len(line2)] = '\n'
	return raw
}

// randomSalt returns a fixed-looking but distinguishable salt; test
// servers don't need cryptographic randomness, only a stable, non-empty
// value AUTH-flow tests can assert against.
func randomSalt(seed int) []byte {
	salt := make([]byte, 32)
	for i := range salt {
		salt[i] = byte((seed + i*7) % 256)
	}
	return salt
}
