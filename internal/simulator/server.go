// Package simulator emulates a DC310S supply on a byte stream. It serves
// the same line protocol as the instrument over TCP or a (virtual) serial
// port.
package simulator

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/goburrow/serial"
	"github.com/sirupsen/logrus"
)

type Server struct {
	store *store
	log   logrus.FieldLogger

	listener  net.Listener
	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func NewServer(log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		store: newStore(),
		log:   log,
		quit:  make(chan struct{}),
		conns: make(map[net.Conn]struct{}),
	}
}

// Listen starts accepting connections on address.
func (s *Server) Listen(address string) error {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	s.listener = l
	s.log.WithField("addr", l.Addr().String()).Info("simulator listening")

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the listening address, or "" before Listen.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			continue
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, c)
				s.mu.Unlock()
				c.Close()
			}()
			s.Serve(c)
		}(conn)
	}
}

// Serve answers commands read from rw until it fails. Read timeouts of a
// serial port are not failures.
func (s *Server) Serve(rw io.ReadWriter) {
	r := bufio.NewReader(rw)
	var pending string
	for {
		line, err := r.ReadString('\n')
		line = pending + line
		pending = ""
		if err != nil {
			if errors.Is(err, serial.ErrTimeout) {
				pending = line
				continue
			}
			if line != "" {
				s.reply(rw, line)
			}
			return
		}
		if !s.reply(rw, line) {
			return
		}
	}
}

func (s *Server) reply(w io.Writer, line string) bool {
	resp := s.store.handleLine(line)
	if resp == "" {
		return true
	}
	if _, err := io.WriteString(w, resp); err != nil {
		s.log.WithFields(logrus.Fields{"op": "reply", "error": err}).Warn("simulator write failed")
		return false
	}
	return true
}

// Close stops the listener, drops open connections and waits for their
// goroutines.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
	})
	s.wg.Wait()
}

// Snapshot returns the current instrument state.
func (s *Server) Snapshot() State { return s.store.snapshot() }

// SetLoad sets the simulated load resistance in ohms.
func (s *Server) SetLoad(ohms float64) { s.store.setLoad(ohms) }

// SetSilent makes the instrument stop answering queries.
func (s *Server) SetSilent(v bool) { s.store.setSilent(v) }

// Commands returns how many command lines were handled.
func (s *Server) Commands() int {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	return s.store.commands
}
