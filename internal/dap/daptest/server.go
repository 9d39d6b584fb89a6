// Package daptest provides an in-memory debug adapter for tests.
package daptest

import (
	"encoding/json"
	"errors"
	"net"
	"sync"

	"github.com/vburojevic/amfid-allow/internal/dap"
)

// HandlerFunc answers one request. A non-nil error becomes a failed
// response carrying the error text.
type HandlerFunc func(req dap.Request) (body any, err error)

// ErrDeferred makes the server hold a request's response. The script
// answers later with Reply, as adapters that answer attach only after
// configurationDone do.
var ErrDeferred = errors.New("daptest: response deferred")

// Server is a scripted adapter on the far end of a net.Pipe.
type Server struct {
	conn      net.Conn
	transport *dap.RawTransport
	client    net.Conn

	mu       sync.Mutex
	seq      int
	handlers map[string]HandlerFunc
	requests []dap.Request
	sendMu   sync.Mutex
}

// NewServer starts serving. Unhandled commands succeed with an empty body.
func NewServer() *Server {
	client, server := net.Pipe()
	s := &Server{
		conn:      server,
		transport: dap.NewRawTransport(server),
		client:    client,
		handlers:  make(map[string]HandlerFunc),
	}
	go s.serve()
	return s
}

// ClientTransport is the transport a dap.Client should use.
func (s *Server) ClientTransport() dap.Transport {
	return dap.NewRawTransport(s.client)
}

// Handle registers the handler for a command.
func (s *Server) Handle(command string, h HandlerFunc) {
	s.mu.Lock()
	s.handlers[command] = h
	s.mu.Unlock()
}

// Requests returns the commands received so far, in order.
func (s *Server) Requests() []dap.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dap.Request(nil), s.requests...)
}

// Commands returns just the command names received so far.
func (s *Server) Commands() []string {
	reqs := s.Requests()
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.Command
	}
	return out
}

// Emit sends an event to the client.
func (s *Server) Emit(event string, body any) error {
	var raw json.RawMessage
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		raw = b
	}
	return s.send(dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Seq: s.nextSeq(), Type: "event"},
		Event:           event,
		Body:            raw,
	})
}

// Close drops the connection, as a crashed adapter would.
func (s *Server) Close() error {
	return s.conn.Close()
}

func (s *Server) nextSeq() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

func (s *Server) send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.transport.Send(b)
}

func (s *Server) serve() {
	for {
		content, err := s.transport.Receive()
		if err != nil {
			return
		}
		var req dap.Request
		if err := json.Unmarshal(content, &req); err != nil {
			continue
		}

		s.mu.Lock()
		s.requests = append(s.requests, req)
		h := s.handlers[req.Command]
		s.mu.Unlock()

		var (
			body    any
			failure error
		)
		if h != nil {
			body, failure = h(req)
			if errors.Is(failure, ErrDeferred) {
				continue
			}
		}
		if err := s.Reply(req, body, failure); err != nil {
			return
		}
	}
}

// Reply sends the response to req. A non-nil err fails the request.
func (s *Server) Reply(req dap.Request, body any, err error) error {
	resp := dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: s.nextSeq(), Type: "response"},
		RequestSeq:      req.Seq,
		Command:         req.Command,
		Success:         true,
	}
	if err != nil {
		resp.Success = false
		resp.Message = err.Error()
	} else if body != nil {
		raw, merr := json.Marshal(body)
		if merr != nil {
			resp.Success = false
			resp.Message = merr.Error()
		} else {
			resp.Body = raw
		}
	}
	return s.send(resp)
}

// Args decodes a request's arguments into T.
func Args[T any](req dap.Request) T {
	var out T
	_ = json.Unmarshal(req.Arguments, &out)
	return out
}
