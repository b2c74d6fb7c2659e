package iproto

import (
	"bytes"
	"encoding/base64"
	"fmt"
)

// GreetingSize is the fixed length of the ASCII banner a server sends
// immediately after accepting a connection, before any IPROTO framing
// begins.
const GreetingSize = 128

// Greeting is the parsed banner: a human-readable version line and the
// base64-decoded salt used to compute an AUTH scramble.
type Greeting struct {
	Version string
	Salt    []byte
}

// ParseGreeting decodes the 128-byte banner into its version string and
// salt. The wire shape is two newline-terminated lines padded with
// spaces to fill exactly 128 bytes: the first line names the server and
// protocol version, the second carries the base64-encoded salt.
func ParseGreeting(raw [GreetingSize]byte) (Greeting, error) {
	nl := bytes.IndexByte(raw[:], '\n')
	if nl < 0 {
		return Greeting{}, fmt.Errorf("iproto: greeting missing first line terminator")
	}
	versionLine := bytes.TrimRight(raw[:nl], " ")

	rest := raw[nl+1:]
	nl2 := bytes.IndexByte(rest, '\n')
	if nl2 < 0 {
		return Greeting{}, fmt.Errorf("iproto: greeting missing second line terminator")
	}
	saltLine := bytes.TrimRight(rest[:nl2], " ")

	salt, err := base64.StdEncoding.DecodeString(string(saltLine))
	if err != nil {
		return Greeting{}, fmt.Errorf("iproto: greeting salt is not valid base64: %w", err)
	}

	return Greeting{Version: string(versionLine), Salt: salt}, nil
}
