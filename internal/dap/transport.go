// Package dap is a small Debug Adapter Protocol client, enough to drive
// lldb-dap through an attach session.
package dap

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// MaxContentLength bounds a single adapter message (10MB).
const MaxContentLength = 10 * 1024 * 1024

// Transport carries framed DAP messages.
type Transport interface {
	Send(content json.RawMessage) error
	Receive() (json.RawMessage, error)
	Close() error
}

// StdioTransport talks to an adapter subprocess over its stdin/stdout.
type StdioTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	reader *bufio.Reader
	mu     sync.Mutex
}

// StartAdapter launches the adapter binary and returns a transport bound to it.
func StartAdapter(path string, args ...string) (*StdioTransport, error) {
	cmd := exec.Command(path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("get stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return nil, fmt.Errorf("start %s: %w", path, err)
	}

	return &StdioTransport{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		reader: bufio.NewReader(stdout),
	}, nil
}

func (t *StdioTransport) Send(content json.RawMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return writeMessage(t.stdin, content)
}

func (t *StdioTransport) Receive() (json.RawMessage, error) {
	return readMessage(t.reader)
}

// Close closes the pipes and reaps the adapter. Closing stdin lets a well
// behaved adapter exit on its own; it is killed otherwise.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_ = t.stdin.Close()
	_ = t.stdout.Close()
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	err := t.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// RawTransport wraps any io.ReadWriteCloser, e.g. a TCP connection to an
// adapter started with --connection, or one end of a net.Pipe in tests.
type RawTransport struct {
	rwc    io.ReadWriteCloser
	reader *bufio.Reader
	mu     sync.Mutex
}

func NewRawTransport(rwc io.ReadWriteCloser) *RawTransport {
	return &RawTransport{rwc: rwc, reader: bufio.NewReader(rwc)}
}

func (t *RawTransport) Send(content json.RawMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return writeMessage(t.rwc, content)
}

func (t *RawTransport) Receive() (json.RawMessage, error) {
	return readMessage(t.reader)
}

func (t *RawTransport) Close() error {
	return t.rwc.Close()
}

func writeMessage(w io.Writer, content []byte) error {
	header := "Content-Length: " + strconv.Itoa(len(content)) + "\r\n\r\n"
	if _, err := io.WriteString(w, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(content); err != nil {
		return fmt.Errorf("write content: %w", err)
	}
	return nil
}

func readMessage(r *bufio.Reader) (json.RawMessage, error) {
	contentLength := -1
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("invalid header: %q", line)
		}
		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("invalid content-length: %w", err)
			}
			if n < 0 || n > MaxContentLength {
				return nil, fmt.Errorf("content-length %d exceeds maximum allowed %d", n, MaxContentLength)
			}
			contentLength = n
		}
	}

	if contentLength <= 0 {
		return nil, errors.New("missing Content-Length header")
	}

	content := make([]byte, contentLength)
	if _, err := io.ReadFull(r, content); err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	return content, nil
}
