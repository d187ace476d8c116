package gateway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/logging"
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"golang.org/x/term"

	plog "github.com/tomz197/pong/internal/logging"
	"github.com/tomz197/pong/internal/pong"
	"github.com/tomz197/pong/internal/server"
)

const sshHelp = "commands: find | invite | join CODE | move POSITION | quit (or a JSON envelope)"

var errUnknownCommand = eris.New("unknown command")

// SSHServer is the line-oriented SSH transport. Each line a client sends is
// either a JSON envelope or a short command; events come back as JSON lines.
type SSHServer struct {
	srv    *ssh.Server
	router *Router
	logger *log.Logger
}

// NewSSHServer creates an SSH transport listening on addr. An empty
// hostKeyPath lets wish generate a key.
func NewSSHServer(addr, hostKeyPath string, router *Router, logger *log.Logger) (*SSHServer, error) {
	if logger == nil {
		logger = plog.Discard()
	}
	s := &SSHServer{router: router, logger: logger}

	opts := []ssh.Option{
		wish.WithAddress(addr),
		wish.WithMiddleware(
			s.sessionMiddleware,
			logging.MiddlewareWithLogger(logger),
		),
		// Paddle moves are small and latency sensitive
		ssh.WrapConn(func(_ ssh.Context, conn net.Conn) net.Conn {
			if tcpConn, ok := conn.(*net.TCPConn); ok {
				_ = tcpConn.SetNoDelay(true)
			}
			return conn
		}),
	}
	if hostKeyPath != "" {
		opts = append(opts, wish.WithHostKeyPath(hostKeyPath))
	}

	srv, err := wish.NewServer(opts...)
	if err != nil {
		return nil, eris.Wrap(err, "create ssh server")
	}
	s.srv = srv
	return s, nil
}

// ListenAndServe blocks until the server is shut down.
func (s *SSHServer) ListenAndServe() error {
	err := s.srv.ListenAndServe()
	if errors.Is(err, ssh.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting sessions and waits for open ones until ctx expires.
func (s *SSHServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *SSHServer) sessionMiddleware(next ssh.Handler) ssh.Handler {
	return func(sess ssh.Session) {
		var (
			lines lineReader
			out   io.Writer = sess
		)
		if _, _, isPty := sess.Pty(); isPty {
			t := term.NewTerminal(sess, "> ")
			lines, out = t, t
		} else {
			lines = &scannerReader{sc: bufio.NewScanner(sess)}
		}

		c := &sshClient{
			id:   NewConnectionID(),
			send: make(chan []byte, sendBuffer),
			done: make(chan struct{}),
		}
		go c.writeLoop(out, sess)

		s.router.Connect(c, sess.User())
		fmt.Fprintln(out, sshHelp)

		for {
			line, err := lines.ReadLine()
			if err != nil {
				break
			}
			env, quit, err := parseCommand(line)
			if quit {
				break
			}
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			if env.Type == "" {
				continue
			}
			s.router.Dispatch(sess.Context(), c.id, env)
		}

		s.router.Disconnect(c)
		c.Close()
		<-c.done
		next(sess)
	}
}

type lineReader interface {
	ReadLine() (string, error)
}

type scannerReader struct {
	sc *bufio.Scanner
}

func (r *scannerReader) ReadLine() (string, error) {
	if r.sc.Scan() {
		return r.sc.Text(), nil
	}
	if err := r.sc.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

type sshClient struct {
	id   pong.ConnectionID
	send chan []byte
	done chan struct{}

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func (c *sshClient) ID() pong.ConnectionID { return c.id }

func (c *sshClient) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *sshClient) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
	})
}

// writeLoop flushes queued events, then closes the session so a blocked
// ReadLine returns.
func (c *sshClient) writeLoop(out io.Writer, sess io.Closer) {
	defer close(c.done)
	for msg := range c.send {
		line := make([]byte, 0, len(msg)+1)
		line = append(append(line, msg...), '\n')
		if _, err := out.Write(line); err != nil {
			break
		}
	}
	_ = sess.Close()
}

// parseCommand turns one input line into an envelope. Empty lines yield a
// zero Envelope.
func parseCommand(line string) (env Envelope, quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Envelope{}, false, nil
	}
	if strings.HasPrefix(line, "{") {
		err = json.Unmarshal([]byte(line), &env)
		return env, false, err
	}

	fields := strings.Fields(line)
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	switch cmd {
	case "quit", "exit":
		return Envelope{}, true, nil
	case "find":
		return Envelope{Type: IntentFindGame}, false, nil
	case "invite":
		return Envelope{Type: IntentCreateInvite}, false, nil
	case "join":
		if len(args) != 1 {
			return Envelope{}, false, eris.New("usage: join CODE")
		}
		return envelope(IntentJoinInvite, server.JoinRequest{InviteCode: args[0]})
	case "move":
		if len(args) != 1 {
			return Envelope{}, false, eris.New("usage: move POSITION")
		}
		pos, perr := strconv.ParseFloat(args[0], 64)
		if perr != nil {
			return Envelope{}, false, eris.Errorf("bad position %q", args[0])
		}
		return envelope(IntentPaddleMove, PaddleMove{Position: pos})
	}
	return Envelope{}, false, eris.Wrapf(errUnknownCommand, "%q", cmd)
}

func envelope(typ string, data any) (Envelope, bool, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, false, err
	}
	return Envelope{Type: typ, Data: raw}, false, nil
}
