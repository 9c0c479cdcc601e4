package smc

import (
	"fmt"

	"github.com/ardnew/softmbox/pkg"
)

// Endpoint is the mailbox endpoint the SMC firmware serves.
const Endpoint uint8 = 0x20

// Command is the command byte in the low 8 bits of a request.
type Command uint8

// SMC commands.
const (
	CmdReadKey     Command = 0x10
	CmdWriteKey    Command = 0x11
	CmdGetKeyInfo  Command = 0x13
	CmdGetSRAMAddr Command = 0x17
)

// String returns the command name.
func (c Command) String() string {
	switch c {
	case CmdReadKey:
		return "read-key"
	case CmdWriteKey:
		return "write-key"
	case CmdGetKeyInfo:
		return "get-key-info"
	case CmdGetSRAMAddr:
		return "get-sram-addr"
	default:
		return fmt.Sprintf("cmd-0x%02x", uint8(c))
	}
}

// Result codes in the low byte of a reply.
const (
	ResultOK          uint8 = 0x00
	ResultError       uint8 = 0x01
	ResultKeyNotFound uint8 = 0x84
)

// NumSeq is the number of request sequence tags; tags wrap modulo NumSeq.
const NumSeq = 16

// DefaultWindowSize is the shared SRAM window mapped by Open.
const DefaultWindowSize = 0x4000

// Key is a four-character SMC key packed big-endian, so "gP01" is 0x67503031.
type Key uint32

// ParseKey packs a four-character ASCII key.
func ParseKey(s string) (Key, error) {
	if len(s) != 4 {
		return 0, fmt.Errorf("%w: key %q is not 4 characters", pkg.ErrInvalidParameter, s)
	}
	var k Key
	for i := 0; i < 4; i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return 0, fmt.Errorf("%w: key %q is not printable ASCII", pkg.ErrInvalidParameter, s)
		}
		k = k<<8 | Key(s[i])
	}
	return k, nil
}

// MustParseKey is like ParseKey but panics on error.
func MustParseKey(s string) Key {
	k, err := ParseKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

// String unpacks the key.
func (k Key) String() string {
	return string([]byte{byte(k >> 24), byte(k >> 16), byte(k >> 8), byte(k)})
}
