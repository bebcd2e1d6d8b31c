package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// Synthesized event types wrapping each prompt. Everything between them is
// the claude CLI's own stream-json output, forwarded verbatim.
const (
	EventTurnStart = "turn_start"
	EventTurnEnd   = "turn_end"
)

// ErrDisposed indicates the session was disposed.
var ErrDisposed = errors.New("agent: session is disposed")

// ClaudeFactory creates sessions that shell out to the claude CLI with
// --output-format stream-json, one process per prompt. Conversation state
// lives in the working directory and is resumed with --continue.
type ClaudeFactory struct {
	// Binary defaults to "claude".
	Binary string
	Logger *slog.Logger
}

func (f *ClaudeFactory) New(ctx context.Context, dir string) (Session, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("agent: working directory %q: %w", dir, err)
	}
	bin := f.Binary
	if bin == "" {
		bin = "claude"
	}
	return &claudeSession{bin: bin, dir: dir, logger: f.Logger}, nil
}

type claudeSession struct {
	bin    string
	dir    string
	logger *slog.Logger
	subs   subscriber

	mu       sync.Mutex
	cmd      *exec.Cmd
	started  bool
	disposed bool
}

func (s *claudeSession) Subscribe(h Handler) func() {
	return s.subs.subscribe(h)
}

func (s *claudeSession) Prompt(ctx context.Context, text string) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	args := []string{"-p", text, "--output-format", "stream-json", "--verbose"}
	if s.started {
		args = append(args, "--continue")
	}
	cmd := exec.CommandContext(ctx, s.bin, args...)
	cmd.Dir = s.dir
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("agent: stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("agent: start %s: %w", s.bin, err)
	}
	s.cmd = cmd
	s.mu.Unlock()

	s.emitSynthetic(EventTurnStart)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var header struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(line, &header); err != nil {
			if s.logger != nil {
				s.logger.Debug("agent: skipping malformed stream line", "line", string(line))
			}
			continue
		}
		payload := make(json.RawMessage, len(line))
		copy(payload, line)
		s.subs.emit(Event{Type: header.Type, Payload: payload})
	}

	waitErr := cmd.Wait()

	s.mu.Lock()
	if s.cmd == cmd {
		s.cmd = nil
	}
	s.mu.Unlock()

	if waitErr != nil {
		detail := string(bytes.TrimSpace(stderr.Bytes()))
		if detail != "" {
			return fmt.Errorf("agent: prompt failed: %w: %s", waitErr, detail)
		}
		return fmt.Errorf("agent: prompt failed: %w", waitErr)
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	s.emitSynthetic(EventTurnEnd)
	return nil
}

func (s *claudeSession) emitSynthetic(eventType string) {
	payload, _ := json.Marshal(map[string]string{"type": eventType})
	s.subs.emit(Event{Type: eventType, Payload: payload})
}

// Abort terminates the in-flight prompt process, if any. Best-effort: work
// the agent already started (e.g. a running tool call) may still complete.
func (s *claudeSession) Abort() {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}
}

func (s *claudeSession) Dispose() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	s.mu.Unlock()
	s.Abort()
	return nil
}
