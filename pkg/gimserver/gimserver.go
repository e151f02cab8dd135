// Copyright 2024 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gimserver implements the daemon end of the GIM command socket.
//
// A Server reads framed commands from each client connection, receives the
// descriptors that accompany them, hands each command to a Handler and
// writes the response back in place, followed by any inbound buffer.
package gimserver

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/fd"
	"gvisor.dev/gvisor/pkg/log"
	"gvisor.dev/gvisor/pkg/sync"
	"gvisor.dev/gvisor/pkg/unet"

	"github.com/amd/MxGPU-Virtualization-sub008/pkg/abi/gim"
	"github.com/amd/MxGPU-Virtualization-sub008/pkg/shm"
)

var (
	// errStopped is returned for a command read after Stop.
	errStopped = errors.New("server stopped")

	// errBadFrame is returned when a client breaks the framing.
	errBadFrame = errors.New("malformed command frame")
)

var commandsServed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gim",
	Subsystem: "server",
	Name:      "commands_total",
	Help:      "Commands answered, by client type and whether they were registered.",
}, []string{"client", "known"})

// clientLog reports per-connection failures without flooding the log when
// many clients misbehave.
var clientLog = log.BasicRateLimitedLogger(time.Second)

// Request is one command received from a client.
type Request struct {
	// Header is the frame header sent ahead of the command.
	Header gim.Header

	// Info is the registry entry of the command.
	Info *gim.Info

	// Cmd is the command record, a *gim.Cmd or a *gim.SMICmd. The handler
	// writes its response into it.
	Cmd gim.Command

	// Outbound holds the contents of the client's outbound buffer for
	// gim.FlagShmOutbound commands.
	Outbound []byte

	// FD is the client's descriptor for gim.FlagFDOutbound commands. It is
	// closed once the handler returns; a handler that keeps it must call
	// FD.Release.
	FD *fd.FD

	// InboundCap is the size of the client's inbound buffer, as advertised
	// in the request of a gim.FlagShmInbound command.
	InboundCap int

	// Inbound is set by the handler of a gim.FlagShmInbound command to the
	// data returned to the client. It is truncated to InboundCap.
	Inbound []byte

	// outboundErr is why the outbound buffer was refused, if it was.
	outboundErr error
}

// Handler executes commands.
type Handler interface {
	// HandleCommand executes r.Cmd and writes the response into it.
	HandleCommand(r *Request)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(r *Request)

// HandleCommand implements Handler.HandleCommand.
func (f HandlerFunc) HandleCommand(r *Request) {
	f(r)
}

// clientState is client metadata.
//
// The following are valid states:
//
// idle - not processing any command, no close request.
// processing - actively processing, no close request.
// closeRequested - actively processing, pending close.
// closed - client connection has been closed.
//
// The following transitions are possible:
//
// idle -> processing, closed
// processing -> idle, closeRequested
// closeRequested -> closed
type clientState int

// See clientState.
const (
	idle clientState = iota
	processing
	closeRequested
	closed
)

// Server serves GIM commands.
type Server struct {
	handler Handler

	// mu protects clients.
	mu sync.Mutex

	// clients is a map of clients.
	clients map[*unet.Socket]clientState

	// wg is a wait group for all outstanding clients.
	wg sync.WaitGroup
}

// NewServer returns a server dispatching commands to h.
func NewServer(h Handler) *Server {
	return &Server{
		handler: h,
		clients: make(map[*unet.Socket]clientState),
	}
}

// readCommand reads one framed command and its side channels from client.
func readCommand(client *unet.Socket) (*Request, error) {
	var hdrBuf [gim.HeaderSize]byte
	if _, err := shm.ReadFrom(client, hdrBuf[:], 0); err != nil {
		return nil, err
	}
	r := &Request{}
	r.Header.UnmarshalBytes(hdrBuf[:])
	if r.Header.CmdID&gim.HeaderMask == 0 {
		return nil, fmt.Errorf("%w: header %#x without header bit", errBadFrame, r.Header.CmdID)
	}

	code := r.Header.Code()
	switch gim.ClientTypeOf(code) {
	case gim.ClientAMDGV:
		r.Cmd = &gim.Cmd{}
	case gim.ClientSMI:
		r.Cmd = &gim.SMICmd{}
	default:
		return nil, fmt.Errorf("%w: unknown client type in %#x", errBadFrame, code)
	}
	buf := make([]byte, r.Cmd.SizeBytes())
	if _, err := shm.ReadFrom(client, buf, 0); err != nil {
		return nil, err
	}
	r.Cmd.UnmarshalBytes(buf)
	if r.Cmd.Code() != code {
		return nil, fmt.Errorf("%w: header %#x, record %#x", errBadFrame, code, r.Cmd.Code())
	}

	// The side channels follow the code's flag bits, so framing survives
	// codes this server does not know.
	flags := gim.FlagsOf(code)
	if c, ok := r.Cmd.(*gim.Cmd); ok && flags&gim.FlagShmOutbound != 0 {
		data, err := shm.RecvLimited(client, gim.ShmSize(c.Input[:]), gim.MaxShmSize)
		switch {
		case errors.Is(err, shm.ErrTooLarge), errors.Is(err, shm.ErrShortFile):
			// The descriptor was consumed, so the frame is intact.
			r.outboundErr = err
		case err != nil:
			return nil, err
		default:
			r.Outbound = data
		}
	}
	if c, ok := r.Cmd.(*gim.Cmd); ok && flags&gim.FlagShmInbound != 0 {
		r.InboundCap = int(gim.ShmSize(c.Output[:]))
	}
	if flags&gim.FlagFDOutbound != 0 {
		f, err := shm.RecvFD(client)
		if err != nil {
			return nil, err
		}
		r.FD = f
	}
	return r, nil
}

// reject writes a failure response for a command that will not reach the
// handler. It returns false if the command is acceptable.
func reject(r *Request) bool {
	info, err := gim.Validate(r.Cmd)
	r.Info = info
	switch c := r.Cmd.(type) {
	case *gim.Cmd:
		switch {
		case errors.Is(err, gim.ErrUnknownCommand):
			c.Response = gim.ResponseUnknownCmd
		case err != nil:
			c.Response = gim.ResponseInvalidInput
		case r.outboundErr != nil:
			clientLog.Warningf("gimserver: refusing outbound buffer of %v from PID %d: %v", info, r.Header.PID, r.outboundErr)
			c.Response = gim.ResponseInvalidInput
		case c.Version != gim.CmdVersion:
			c.Response = gim.ResponseVersion
		default:
			return false
		}
	case *gim.SMICmd:
		switch {
		case errors.Is(err, gim.ErrUnknownCommand):
			c.Status = gim.SMIStatusNotSupported
		case err != nil:
			c.Status = gim.SMIStatusInval
		default:
			return false
		}
	}
	return true
}

// finishInbound sizes the inbound buffer of r to fit the client's and
// records the size in the response. It returns the bytes to send.
func finishInbound(r *Request) []byte {
	c, ok := r.Cmd.(*gim.Cmd)
	if !ok || gim.FlagsOf(c.ID)&gim.FlagShmInbound == 0 {
		return nil
	}
	data := r.Inbound
	if len(data) > r.InboundCap {
		data = data[:r.InboundCap]
		if c.Response == gim.ResponseSuccess {
			c.Response = gim.ResponseSuccessExceedBuffer
		}
	}
	gim.SetShmSize(c.Output[:], uint32(len(data)))
	return data
}

// handleOne handles a single command.
func (s *Server) handleOne(client *unet.Socket) error {
	r, err := readCommand(client)
	if err != nil {
		// Client is dead.
		return err
	}
	if r.FD != nil {
		defer r.FD.Close()
	}

	// Start the request.
	if !s.clientBeginRequest(client) {
		// Client is dead; don't process this command.
		return errStopped
	}
	defer s.clientEndRequest(client)

	known := "true"
	if reject(r) {
		if r.Info == nil {
			known = "false"
		}
		log.Debugf("gimserver: rejected %#x from PID %d", r.Cmd.Code(), r.Header.PID)
	} else {
		s.handler.HandleCommand(r)
	}
	commandsServed.WithLabelValues(gim.ClientTypeOf(r.Cmd.Code()).String(), known).Inc()

	inbound := finishInbound(r)
	rsp := make([]byte, r.Cmd.SizeBytes())
	r.Cmd.MarshalBytes(rsp)
	if err := shm.WriteTo(client, [][]byte{rsp}, nil); err != nil {
		return err
	}
	return shm.Send(client, inbound)
}

// clientBeginRequest begins a request.
//
// If true is returned, the request may be processed. If false is returned,
// then the server has been stopped and the request should be skipped.
func (s *Server) clientBeginRequest(client *unet.Socket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch state := s.clients[client]; state {
	case idle:
		// Mark as processing.
		s.clients[client] = processing
		return true
	case closed:
		// Closed while the command was being read. Don't run it, since
		// the response cannot be written.
		return false
	default:
		// Should not happen.
		panic(fmt.Sprintf("expected idle or closed, got %d", state))
	}
}

// clientEndRequest ends a request.
func (s *Server) clientEndRequest(client *unet.Socket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch state := s.clients[client]; state {
	case processing:
		// Return to idle.
		s.clients[client] = idle
	case closeRequested:
		// Close the connection.
		client.Close()
		s.clients[client] = closed
	default:
		// Should not happen.
		panic(fmt.Sprintf("expected processing or closeRequested, got %d", state))
	}
}

// clientRegister registers a connection.
//
// See Stop for more context.
func (s *Server) clientRegister(client *unet.Socket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client] = idle
	s.wg.Add(1)
}

// clientUnregister unregisters and closes a connection if necessary.
//
// See Stop for more context.
func (s *Server) clientUnregister(client *unet.Socket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch state := s.clients[client]; state {
	case idle:
		// Close the connection.
		client.Close()
	case closed:
		// Already done.
	default:
		// Should not happen.
		panic(fmt.Sprintf("expected idle or closed, got %d", state))
	}
	delete(s.clients, client)
	s.wg.Done()
}

// handleRegistered handles commands from a registered client.
func (s *Server) handleRegistered(client *unet.Socket) error {
	for {
		// Handle one command.
		if err := s.handleOne(client); err != nil {
			// Client is dead.
			return err
		}
	}
}

// Handle synchronously handles a single client over a connection. It
// returns when the client disconnects or breaks the protocol.
func (s *Server) Handle(client *unet.Socket) error {
	s.clientRegister(client)
	defer s.clientUnregister(client)
	return s.handleRegistered(client)
}

// StartHandling creates a goroutine that handles a single client over a
// connection.
func (s *Server) StartHandling(client *unet.Socket) {
	s.clientRegister(client)
	go func() {
		defer s.clientUnregister(client)
		if err := s.handleRegistered(client); err != nil && !isDisconnect(err) {
			clientLog.Warningf("gimserver: client FD %d: %v", client.FD(), err)
		}
	}()
}

// isDisconnect returns true if err reports a client going away rather than
// a broken protocol.
func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, unix.EBADF) || errors.Is(err, unix.ECONNRESET) || errors.Is(err, unix.EPIPE)
}

// Serve accepts clients on ss until ss is closed, handling each on its own
// goroutine.
func (s *Server) Serve(ss *unet.ServerSocket) error {
	for {
		client, err := ss.Accept()
		if err != nil {
			return err
		}
		log.Debugf("gimserver: accepted client FD %d", client.FD())
		s.StartHandling(client)
	}
}

// Stop safely terminates outstanding clients.
//
// Idle clients are closed immediately and busy clients after their current
// command. This method will block until all clients have disconnected. It
// does not close any listening socket passed to Serve.
func (s *Server) Stop() {
	// Wait for all outstanding requests.
	defer s.wg.Wait()

	// Close all known clients.
	s.mu.Lock()
	defer s.mu.Unlock()
	for client, state := range s.clients {
		switch state {
		case idle:
			// Close connection now.
			client.Close()
			s.clients[client] = closed
		case processing:
			// Request close when done.
			s.clients[client] = closeRequested
		}
	}
}
