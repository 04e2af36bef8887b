package serialmux

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// ReplayPort is a SerialPorter that replays fixture lines in a loop, one per
// interval, until it is closed. Writes are discarded.
type ReplayPort struct {
	r *io.PipeReader
	w *io.PipeWriter

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReplayPort starts replaying lines. Each line gets a trailing newline.
func NewReplayPort(lines []string, interval time.Duration) *ReplayPort {
	r, w := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	p := &ReplayPort{r: r, w: w, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(p.done)
		if len(lines) == 0 {
			<-ctx.Done()
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for i := 0; ; i = (i + 1) % len(lines) {
			if _, err := io.WriteString(w, lines[i]+"\n"); err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return p
}

func (p *ReplayPort) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *ReplayPort) Write(b []byte) (int, error) { return len(b), nil }

// Close stops the replay and unblocks readers with io.EOF.
func (p *ReplayPort) Close() error {
	p.cancel()
	p.w.Close()
	<-p.done
	return nil
}

// LoadFixtureLines reads newline-delimited payloads from path, skipping blank
// lines.
func LoadFixtureLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	var lines []string
	scan := bufio.NewScanner(bytes.NewReader(data))
	for scan.Scan() {
		if line := bytes.TrimSpace(scan.Bytes()); len(line) > 0 {
			lines = append(lines, string(line))
		}
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("no fixture lines in %s", path)
	}
	return lines, nil
}

// NewMockSerialMux creates a SerialMux replaying the fixture file at path.
func NewMockSerialMux(path string, interval time.Duration) (*SerialMux[*ReplayPort], error) {
	lines, err := LoadFixtureLines(path)
	if err != nil {
		return nil, err
	}
	return NewSerialMux(NewReplayPort(lines, interval)), nil
}

// TestableSerialPort implements SerialPorter with configurable behaviour for
// testing. Reads block until data is added or the port is closed.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadError is returned by the next Read call if set
	ReadError error

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	readCond *sync.Cond
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

var errPortClosed = errors.New("serial port closed")

// Read reads from the read buffer, blocking while it is empty.
func (t *TestableSerialPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for !t.Closed && t.ReadError == nil && t.ReadBuffer.Len() == 0 {
		t.readCond.Wait()
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}
	if t.Closed {
		return 0, io.EOF
	}
	return t.ReadBuffer.Read(p)
}

// Write writes to the write buffer.
func (t *TestableSerialPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Closed {
		return 0, errPortClosed
	}
	return t.WriteBuffer.Write(p)
}

// Close marks the port as closed.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast() // Wake up any blocked readers

	return t.CloseError
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Broadcast()
}

// FailNextRead makes the next Read return err.
func (t *TestableSerialPort) FailNextRead(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadError = err
	t.readCond.Broadcast()
}
