// Package smcsim is a simulated SMC firmware: a key store served over the
// shared SRAM window, installed as a [mailboxsim.Handler].
package smcsim

import (
	"sync"

	"github.com/ardnew/softmbox/hal"
	"github.com/ardnew/softmbox/mailbox"
	"github.com/ardnew/softmbox/mailbox/mailboxsim"
	"github.com/ardnew/softmbox/smc"
)

// Server is the simulated firmware.
type Server struct {
	sram     hal.MMIO
	sramAddr uint64

	mu       sync.Mutex
	keys     map[smc.Key][]byte
	requests []smc.Request
	silent   int
	seqSkew  uint8
}

// New returns a server whose shared window is sram, advertised to the host
// at physical address sramAddr.
func New(sram hal.MMIO, sramAddr uint64) *Server {
	return &Server{sram: sram, sramAddr: sramAddr, keys: make(map[smc.Key][]byte)}
}

// Install serves ep of cop.
func (s *Server) Install(cop *mailboxsim.Coprocessor, ep uint8) {
	cop.Handle(ep, s.Serve)
}

// Set stores a key value.
func (s *Server) Set(key smc.Key, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = append([]byte(nil), value...)
}

// Get returns a key value.
func (s *Server) Get(key smc.Key) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.keys[key]
	return append([]byte(nil), v...), ok
}

// Requests returns every request served, in order.
func (s *Server) Requests() []smc.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]smc.Request(nil), s.requests...)
}

// Silence makes the next n requests go unanswered.
func (s *Server) Silence(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = n
}

// SkewSeq adds skew to the sequence tag of every reply.
func (s *Server) SkewSeq(skew uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqSkew = skew
}

// Serve answers one request. It implements mailboxsim.Handler.
func (s *Server) Serve(m mailbox.Message) (mailbox.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := smc.ParseRequest(m)
	s.requests = append(s.requests, req)
	if s.silent > 0 {
		s.silent--
		return mailbox.Message{}, false
	}

	if req.Command == smc.CmdGetSRAMAddr {
		return mailbox.Message{W0: s.sramAddr}, true
	}

	reply := smc.Reply{Result: smc.ResultOK, Seq: (req.Seq + s.seqSkew) % smc.NumSeq}
	switch req.Command {
	case smc.CmdReadKey:
		v, ok := s.keys[req.Key]
		if !ok {
			reply.Result = smc.ResultKeyNotFound
			break
		}
		if len(v) > int(req.Size) {
			v = v[:req.Size]
		}
		smc.WriteWindow(s.sram, v)
		reply.Size = uint16(len(v))
	case smc.CmdWriteKey:
		v := make([]byte, req.Size)
		smc.ReadWindow(s.sram, v)
		s.keys[req.Key] = v
		reply.Size = req.Size
	case smc.CmdGetKeyInfo:
		v, ok := s.keys[req.Key]
		if !ok {
			reply.Result = smc.ResultKeyNotFound
			break
		}
		smc.WriteWindow(s.sram, []byte{byte(len(v)), 0, 0, 0})
		reply.Size = 4
	default:
		reply.Result = smc.ResultError
	}
	return reply.Message(), true
}
