package connection

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jasona/mudforge-sub010/pkg/logger"
)

// tcpReadTimeout bounds how long a raw TCP connection may sit idle between
// lines before it is dropped, mirroring the websocket transport's pongWait
// window so both transports enforce the same dead-peer policy.
const tcpReadTimeout = pongWait

// TCPOptions configures a TCPService.
type TCPOptions struct {
	Addr         string
	Manager      *Manager
	Dispatcher   *Dispatcher
	Login        LoginHandler
	OutboundSize int
	Logger       *logger.Logger
}

// TCPService is the raw-socket transport alternative described in spec
// section 6.1: a line-oriented, newline-delimited protocol offered
// alongside the websocket transport, feeding the identical session
// pipeline (shared via sessionDriver) so a client's
// choice of transport never changes dispatch or login semantics. There is
// no framing beyond newlines; a structured frame is still distinguished
// from a plain command line only by the frameMagic prefix, exactly as on
// the websocket transport.
//
// Grounded on the same teacher http.Server Name/Start/Stop lifecycle shape
// as the websocket Service (internal/app/httpapi/service.go), adapted from
// net/http to net.Listener/net.Conn.
type TCPService struct {
	addr    string
	mgr     *Manager
	outSize int
	log     *logger.Logger
	driver  sessionDriver

	listener net.Listener
	wg       sync.WaitGroup
}

// NewTCPService constructs a TCPService from opts.
func NewTCPService(opts TCPOptions) *TCPService {
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("connection-tcp")
	}
	return &TCPService{
		addr:    opts.Addr,
		mgr:     opts.Manager,
		outSize: opts.OutboundSize,
		log:     log,
		driver: sessionDriver{
			mgr:   opts.Manager,
			disp:  opts.Dispatcher,
			login: opts.Login,
			log:   log,
		},
	}
}

func (s *TCPService) Name() string { return "tcp-connection" }

// Start opens the listener and begins accepting in a background goroutine.
func (s *TCPService) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()
	return nil
}

// Stop closes the listener, unblocking acceptLoop, then waits for it to
// return. In-flight connections are left to drain on their own read
// timeout rather than being forcibly severed.
func (s *TCPService) Stop(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func (s *TCPService) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *TCPService) handleConn(nc net.Conn) {
	defer nc.Close()

	id := "tcp-" + uuid.NewString()
	conn := NewConnection(id, nc.RemoteAddr().String(), s.outSize)
	s.mgr.Register(conn)

	writeDone := make(chan struct{})
	var writeMu sync.Mutex

	go s.pumpOutbound(conn, nc, &writeMu, writeDone)

	s.readLoop(context.Background(), conn, nc)

	close(writeDone)
	conn.SetState(StateClosing)
	s.mgr.Disconnect(id, "connection closed")
	conn.SetState(StateClosed)
}

// pumpOutbound drains conn's bounded outbound queue to the raw socket, one
// newline-terminated write per queued message.
func (s *TCPService) pumpOutbound(conn *Connection, nc net.Conn, writeMu *sync.Mutex, done <-chan struct{}) {
	for {
		select {
		case msg, ok := <-conn.Outbound():
			if !ok {
				return
			}
			writeMu.Lock()
			nc.SetWriteDeadline(time.Now().Add(10 * time.Second))
			_, err := nc.Write(append(msg, '\n'))
			writeMu.Unlock()
			if err != nil {
				s.log.Warnf("write error for connection %s: %v", conn.ID(), err)
				return
			}
		case <-done:
			return
		}
	}
}

func (s *TCPService) readLoop(ctx context.Context, conn *Connection, nc net.Conn) {
	s.driver.greet(conn)

	scanner := bufio.NewScanner(nc)
	scanner.Buffer(make([]byte, 4096), 64*1024)
	for {
		nc.SetReadDeadline(time.Now().Add(tcpReadTimeout))
		if !scanner.Scan() {
			return
		}
		s.driver.handleInbound(ctx, conn, scanner.Bytes())
	}
}
