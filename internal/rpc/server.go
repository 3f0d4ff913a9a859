package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"sync"

	"github.com/localcdp/browserd/internal/logging"
)

// Server accepts connections on a Unix domain socket and serves framed
// requests. Each connection gets a reader goroutine and a write-queue
// goroutine; requests on one connection run concurrently.
type Server struct {
	dispatcher *Dispatcher
	socketPath string
	log        *logging.Logger

	listener net.Listener
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	draining bool
	wg       sync.WaitGroup
}

func NewServer(dispatcher *Dispatcher, socketPath string) *Server {
	return &Server{
		dispatcher: dispatcher,
		socketPath: socketPath,
		log:        logging.New("rpc"),
		conns:      make(map[net.Conn]struct{}),
	}
}

// Listen binds the socket, removing any stale file first.
func (s *Server) Listen() error {
	os.Remove(s.socketPath)
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}
	s.listener = ln
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.draining {
			s.mu.Unlock()
			conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	writeCh := make(chan Response, 64)
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		enc := json.NewEncoder(conn)
		for resp := range writeCh {
			if err := enc.Encode(resp); err != nil {
				return
			}
		}
	}()

	var pending sync.WaitGroup
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			writeCh <- Response{JSONRPC: "2.0", Error: &RPCError{Code: -32700, Message: "parse error"}}
			continue
		}

		pending.Add(1)
		go func() {
			defer pending.Done()
			writeCh <- s.dispatcher.Dispatch(context.Background(), req)
		}()
	}

	pending.Wait()
	close(writeCh)
	<-writeDone
}

// Shutdown stops accepting requests and waits for in-flight ones up to
// ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) {
	s.mu.Lock()
	s.draining = true
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		for _, c := range conns {
			c.Close()
		}
	}
	os.Remove(s.socketPath)
}
