package termpool

import (
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/alekspetrov/warden/internal/logging"
)

// chanCapacity bounds each session's in-flight message count. A slow
// consumer stalls the reader loop, which stalls the process's output pipe.
const chanCapacity = 256

// readChunkSize is the fixed read size for the reader loop.
const readChunkSize = 4096

// Session is a live pseudo-terminal process with channel-based I/O.
//
// The reader goroutine drains the process's combined output into the inbound
// channel in fixed-size chunks until EOF or error. The writer goroutine blocks
// on the outbound channel and writes each chunk to the process's input until
// the channel is closed. Within one session bytes are delivered in order;
// there is no ordering guarantee across sessions.
type Session struct {
	ID uuid.UUID

	inbound  chan []byte
	outbound chan []byte

	cmd  *exec.Cmd
	ptmx *os.File

	// done unblocks a reader parked on a full inbound channel when the
	// session is killed with its output undrained.
	done chan struct{}

	exited    atomic.Bool
	exitCode  atomic.Int32
	closeOnce sync.Once

	// resizeMu guards the terminal master during resize.
	resizeMu sync.Mutex
}

func newSession(id uuid.UUID, cmd *exec.Cmd, ptmx *os.File) *Session {
	s := &Session{
		ID:       id,
		inbound:  make(chan []byte, chanCapacity),
		outbound: make(chan []byte, chanCapacity),
		done:     make(chan struct{}),
		cmd:      cmd,
		ptmx:     ptmx,
	}

	go s.readLoop()
	go s.writeLoop()
	go s.waitLoop()

	return s
}

// readLoop drains process output into the inbound channel until EOF or error.
func (s *Session) readLoop() {
	defer func() {
		if r := recover(); r != nil {
			logging.WithSession(s.ID.String()).Error("session reader panic recovered", "panic", r)
		}
		close(s.inbound)
	}()

	buf := make([]byte, readChunkSize)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			// Blocks when the channel is full; backpressure stalls the
			// process's output pipe instead of growing memory.
			select {
			case s.inbound <- chunk:
			case <-s.done:
				return
			}
		}
		if err != nil {
			// EIO is expected when the child side of the PTY closes.
			return
		}
	}
}

// writeLoop forwards outbound chunks to the process until the channel closes.
func (s *Session) writeLoop() {
	defer func() {
		if r := recover(); r != nil {
			logging.WithSession(s.ID.String()).Error("session writer panic recovered", "panic", r)
		}
	}()

	for data := range s.outbound {
		if _, err := s.ptmx.Write(data); err != nil {
			logging.WithSession(s.ID.String()).Debug("session write failed", "error", err)
			return
		}
	}
}

// waitLoop reaps the child process and marks the session dead.
func (s *Session) waitLoop() {
	_ = s.cmd.Wait()
	if state := s.cmd.ProcessState; state != nil {
		s.exitCode.Store(int32(state.ExitCode()))
	}
	s.exited.Store(true)
	// Closing the master unblocks a reader stuck in Read.
	_ = s.ptmx.Close()
}

// Send writes raw bytes to the process's stdin. Blocks when the outbound
// channel is full. Returns ErrSessionClosed after Kill.
func (s *Session) Send(data []byte) (err error) {
	defer func() {
		if recover() != nil {
			err = ErrSessionClosed
		}
	}()
	s.outbound <- data
	return nil
}

// SendLine sends a string followed by a newline.
func (s *Session) SendLine(line string) error {
	return s.Send(append([]byte(line), '\n'))
}

// ReadTimeout waits up to d for the next output chunk. Returns nil on
// timeout or when the session's output is exhausted; timeouts are not errors.
func (s *Session) ReadTimeout(d time.Duration) []byte {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case chunk, ok := <-s.inbound:
		if !ok {
			return nil
		}
		return chunk
	case <-timer.C:
		return nil
	}
}

// ReadAll drains all currently buffered output without blocking.
func (s *Session) ReadAll() []byte {
	var buf []byte
	for {
		select {
		case chunk, ok := <-s.inbound:
			if !ok {
				return buf
			}
			buf = append(buf, chunk...)
		default:
			return buf
		}
	}
}

// Alive reports whether the child process is still running. Output may still
// be buffered in the inbound channel after the process exits.
func (s *Session) Alive() bool {
	return !s.exited.Load()
}

// ExitCode returns the child process's exit code, or -1 while it is still
// running.
func (s *Session) ExitCode() int {
	if s.Alive() {
		return -1
	}
	return int(s.exitCode.Load())
}

// Resize updates the terminal dimensions the child process sees.
func (s *Session) Resize(cols, rows uint16) error {
	s.resizeMu.Lock()
	defer s.resizeMu.Unlock()

	if err := pty.Setsize(s.ptmx, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return err
	}
	logging.WithSession(s.ID.String()).Debug("session resized", "cols", cols, "rows", rows)
	return nil
}

// Kill terminates the child process immediately and closes the outbound
// channel. Buffered output remains readable via ReadAll.
func (s *Session) Kill() error {
	var killErr error
	if s.cmd.Process != nil && s.Alive() {
		killErr = s.cmd.Process.Kill()
	}
	s.closeOnce.Do(func() {
		close(s.outbound)
		close(s.done)
	})
	return killErr
}
