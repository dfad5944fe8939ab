package autotrail

import (
	"log/slog"
	"net"
	"os"
	"time"
)

// socketServer owns the control-socket's listening file descriptor and the
// socket file on disk (spec.md §3, "Lifecycle ownership" / §4.6). It is
// polled non-blockingly once per tick; any accept or per-connection error is
// logged and isolated to that connection rather than raised to the manager.
type socketServer struct {
	listener *net.UnixListener
	path     string
	log      *slog.Logger
}

// listenSocket binds a Unix-domain stream socket at path, removing any stale
// socket file left behind by a prior crashed run first.
func listenSocket(path string, log *slog.Logger) (*socketServer, error) {
	_ = os.Remove(path)

	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, err
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, err
	}
	return &socketServer{listener: ln, path: path, log: log}, nil
}

// connIODeadline bounds the read of one request and the write of its
// response on an accepted connection.
const connIODeadline = 100 * time.Millisecond

// poll drains up to maxConns ready connections, reading one framed request
// from each, invoking handle, and writing back the framed response. Each
// accept waits at most a short accept deadline and each connection's I/O at
// most connIODeadline, so a slow or silent client cannot stall the caller's
// event loop tick indefinitely.
func (s *socketServer) poll(maxConns int, handle func(Request) Response) {
	for i := 0; i < maxConns; i++ {
		_ = s.listener.SetDeadline(time.Now().Add(time.Millisecond))
		conn, err := s.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return
			}
			s.log.Warn("autotrail: accept failed", "error", err)
			return
		}

		s.serveOne(conn, handle)
	}
}

func (s *socketServer) serveOne(conn net.Conn, handle func(Request) Response) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connIODeadline))

	req, err := readRequest(conn)
	if err != nil {
		s.log.Warn("autotrail: dropping connection, bad request frame", "error", err)
		return
	}

	resp := handle(req)

	if err := writeResponse(conn, resp); err != nil {
		s.log.Warn("autotrail: failed writing response", "request_id", req.RequestID, "error", err)
	}
}

// close shuts down the listener and removes the socket file, on every exit
// path including a crash-induced shutdown (the caller must still invoke this
// from a defer).
func (s *socketServer) close() error {
	err := s.listener.Close()
	_ = os.Remove(s.path)
	return err
}
