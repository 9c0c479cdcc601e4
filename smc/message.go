package smc

import (
	"fmt"

	"github.com/ardnew/softmbox/mailbox"
)

const (
	cmdMask    = 0xff
	seqShift   = 12
	seqMask    = 0xf
	sizeShift  = 16
	sizeMask   = 0xffff
	keyShift   = 32
	resultMask = 0xff
)

// Request is a command sent to the SMC.
type Request struct {
	Command Command
	Key     Key
	Size    uint16 // bytes of the shared window the command uses
	Seq     uint8  // 0 to NumSeq-1, echoed in the reply
}

// ParseRequest decodes a request.
func ParseRequest(m mailbox.Message) Request {
	return Request{
		Command: Command(m.W0 & cmdMask),
		Key:     Key(m.W0 >> keyShift),
		Size:    uint16((m.W0 >> sizeShift) & sizeMask),
		Seq:     uint8((m.W0 >> seqShift) & seqMask),
	}
}

// Message encodes the request.
func (r Request) Message() mailbox.Message {
	return mailbox.Message{
		W0: uint64(r.Command) |
			uint64(r.Key)<<keyShift |
			uint64(r.Size)<<sizeShift |
			uint64(r.Seq&seqMask)<<seqShift,
	}
}

// Reply is the SMC's answer to a Request.
type Reply struct {
	Result uint8
	Seq    uint8
	Size   uint16 // bytes of valid output in the shared window
}

// ParseReply decodes a reply.
func ParseReply(m mailbox.Message) Reply {
	return Reply{
		Result: uint8(m.W0 & resultMask),
		Seq:    uint8((m.W0 >> seqShift) & seqMask),
		Size:   uint16((m.W0 >> sizeShift) & sizeMask),
	}
}

// Message encodes the reply.
func (r Reply) Message() mailbox.Message {
	return mailbox.Message{
		W0: uint64(r.Result) | uint64(r.Seq&seqMask)<<seqShift | uint64(r.Size)<<sizeShift,
	}
}

func (r Request) String() string {
	return fmt.Sprintf("%s key=%s size=%d seq=%d", r.Command, r.Key, r.Size, r.Seq)
}
