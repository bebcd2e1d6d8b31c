// Package sshkey manages the cockpit-owned SSH key pair used for cloning
// ssh-style repository URLs inside sandboxes. Provisioning only verifies
// the pair; generation is a separate explicit setup action (`cockpit
// keygen`) so a half-configured environment fails fast instead of silently
// minting keys.
package sshkey

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/justinmoon/cockpit/internal/runner"
)

// CommentPrefix marks keys as cockpit-managed. Check refuses keys whose
// comment does not carry it, so provisioning never uploads a personal key
// by accident.
const CommentPrefix = "cockpit-managed"

const keyBase = "cockpit_ed25519"

// ErrMissing indicates no managed key pair exists yet.
var ErrMissing = errors.New("sshkey: no cockpit-managed key found; run `cockpit keygen` first")

// Pair describes the managed key on disk.
type Pair struct {
	PrivatePath string
	PublicPath  string
	// Public is the full contents of the public key file, trimmed.
	Public string
}

// Manager checks and generates the managed key pair.
type Manager struct {
	Runner runner.Runner
	// Dir defaults to ~/.ssh.
	Dir string
}

func (m *Manager) dir() (string, error) {
	if m.Dir != "" {
		return m.Dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("sshkey: resolve home: %w", err)
	}
	return filepath.Join(home, ".ssh"), nil
}

// Check verifies the managed pair exists, carries the reserved comment
// prefix, and that the private key re-derives the stored public key. Every
// failure is a fatal precondition with an actionable message.
func (m *Manager) Check(ctx context.Context) (Pair, error) {
	dir, err := m.dir()
	if err != nil {
		return Pair{}, err
	}
	pair := Pair{
		PrivatePath: filepath.Join(dir, keyBase),
		PublicPath:  filepath.Join(dir, keyBase+".pub"),
	}

	pub, err := os.ReadFile(pair.PublicPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Pair{}, ErrMissing
		}
		return Pair{}, fmt.Errorf("sshkey: read %s: %w", pair.PublicPath, err)
	}
	if _, err := os.Stat(pair.PrivatePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Pair{}, fmt.Errorf("sshkey: public key exists but private key %s is missing; run `cockpit keygen` to regenerate the pair", pair.PrivatePath)
		}
		return Pair{}, fmt.Errorf("sshkey: stat %s: %w", pair.PrivatePath, err)
	}

	pair.Public = strings.TrimSpace(string(pub))
	if comment := keyComment(pair.Public); !strings.HasPrefix(comment, CommentPrefix) {
		return Pair{}, fmt.Errorf("sshkey: %s is not cockpit-managed (comment %q lacks prefix %q); refusing to upload it — run `cockpit keygen`", pair.PublicPath, comment, CommentPrefix)
	}

	// ssh-keygen -y re-derives the public key from the private half; a
	// mismatch means the files have drifted apart.
	res, err := m.Runner.Run(ctx, runner.Request{
		Cmd:  "ssh-keygen",
		Args: []string{"-y", "-f", pair.PrivatePath},
	})
	if err := runner.RequireOk("sshkey: derive public key", res, err); err != nil {
		return Pair{}, err
	}
	if keyBody(strings.TrimSpace(res.Stdout)) != keyBody(pair.Public) {
		return Pair{}, fmt.Errorf("sshkey: %s does not match %s; the pair is inconsistent — run `cockpit keygen` to regenerate", pair.PrivatePath, pair.PublicPath)
	}
	return pair, nil
}

// Generate creates a fresh managed ed25519 pair, replacing any existing one.
func (m *Manager) Generate(ctx context.Context) (Pair, error) {
	dir, err := m.dir()
	if err != nil {
		return Pair{}, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Pair{}, fmt.Errorf("sshkey: create %s: %w", dir, err)
	}
	private := filepath.Join(dir, keyBase)
	for _, p := range []string{private, private + ".pub"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Pair{}, fmt.Errorf("sshkey: remove stale %s: %w", p, err)
		}
	}

	host, _ := os.Hostname()
	comment := CommentPrefix
	if host != "" {
		comment += "-" + host
	}
	res, err := m.Runner.Run(ctx, runner.Request{
		Cmd:      "ssh-keygen",
		Args:     []string{"-t", "ed25519", "-N", "", "-C", comment, "-f", private},
		Mutating: true,
	})
	if err := runner.RequireOk("sshkey: generate key", res, err); err != nil {
		return Pair{}, err
	}
	return m.Check(ctx)
}

// keyComment returns the comment field (third column) of an authorized-keys
// formatted line.
func keyComment(line string) string {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return ""
	}
	return strings.Join(fields[2:], " ")
}

// keyBody returns "type base64" without the comment, for comparison.
func keyBody(line string) string {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return line
	}
	return fields[0] + " " + fields[1]
}
