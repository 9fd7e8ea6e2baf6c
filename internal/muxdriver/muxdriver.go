// Package muxdriver is a thin adapter over an external terminal multiplexer
// CLI (tmux-compatible). It centralizes every shell-out this service makes,
// so command construction, timeouts, and name validation live in one place.
package muxdriver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/summitflow/summitflow-term/internal/procutil"
)

// commandTimeout bounds every mux subprocess call. 10s is generous for a
// local tmux binary; a hang past this almost certainly means the mux
// daemon itself is wedged.
const commandTimeout = 10 * time.Second

const sessionPrefix = "summitflow-"

// DefaultCols and DefaultRows size a freshly created session before any
// client has attached and sent a resize handshake.
const (
	DefaultCols = 120
	DefaultRows = 30
)

var sessionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-:]+$`)

// maxSessionNameLen bounds any external session name interpolated into a
// subprocess argument list.
const maxSessionNameLen = 256

// secretEnvDenyList is unset from every new mux session so child shells
// cannot inherit sensitive credentials from the service's own environment.
var secretEnvDenyList = []string{
	"DATABASE_URL",
	"CF_ACCESS_CLIENT_ID",
	"CF_ACCESS_CLIENT_SECRET",
	"ANTHROPIC_API_KEY",
	"OPENAI_API_KEY",
	"GOOGLE_API_KEY",
	"GEMINI_API_KEY",
	"SECRET_KEY",
	"JWT_SECRET",
	"AWS_ACCESS_KEY_ID",
	"AWS_SECRET_ACCESS_KEY",
	"GITHUB_TOKEN",
	"GITLAB_TOKEN",
	"SLACK_TOKEN",
	"DISCORD_TOKEN",
}

// MuxError wraps a failed mux-command invocation.
type MuxError struct {
	Args   []string
	Output string
	Err    error
}

func (e *MuxError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("muxdriver: %s: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("muxdriver: %s: %s", strings.Join(e.Args, " "), e.Output)
}

func (e *MuxError) Unwrap() error { return e.Err }

// Driver runs the external mux binary and exposes session-level operations.
// Driver holds no session state of its own; every call is stateless and the
// mux process itself serializes concurrent access.
type Driver struct {
	// Bin is the mux executable name or path. Defaults to "tmux".
	Bin string

	// SecretDenyList overrides secretEnvDenyList when non-nil, letting
	// operators extend or narrow which env vars get scrubbed from new
	// sessions via config.Config.SecretDenyList.
	SecretDenyList []string
}

func (d *Driver) secretDenyList() []string {
	if d.SecretDenyList != nil {
		return d.SecretDenyList
	}
	return secretEnvDenyList
}

// New creates a Driver for the given mux binary. An empty bin defaults to "tmux".
func New(bin string) *Driver {
	if strings.TrimSpace(bin) == "" {
		bin = "tmux"
	}
	return &Driver{Bin: bin}
}

// SessionName derives the external mux session name for a service session id.
func SessionName(id string) string {
	return sessionPrefix + id
}

// ValidateName reports whether s is safe to interpolate into a mux command
// line. Every external-facing session name MUST pass this gate first.
func ValidateName(s string) bool {
	return len(s) < maxSessionNameLen && s != "" && sessionNamePattern.MatchString(s)
}

// IsServiceSession reports whether name is a service-prefixed base session
// name (SessionName's output shape), as opposed to an auxiliary or foreign
// mux session.
func IsServiceSession(name string) bool {
	return strings.HasPrefix(name, sessionPrefix)
}

// StripSessionPrefix derives the service session id from a service-prefixed
// base session name. Returns "", false if name isn't one of ours.
func StripSessionPrefix(name string) (string, bool) {
	id, ok := strings.CutPrefix(name, sessionPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// run executes the mux binary with args under a fixed timeout, returning
// trimmed stdout on success or a MuxError on non-zero exit/timeout.
func (d *Driver) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.Bin, args...)
	procutil.HideWindow(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", &MuxError{Args: args, Err: fmt.Errorf("command timed out after %s", commandTimeout)}
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", &MuxError{Args: args, Output: msg, Err: err}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// ExistsByName reports whether a mux session with the given external name exists.
func (d *Driver) ExistsByName(ctx context.Context, name string) bool {
	_, err := d.run(ctx, "has-session", "-t", name)
	return err == nil
}

// Exists reports whether a mux session for the given service session id exists.
func (d *Driver) Exists(ctx context.Context, id string) bool {
	return d.ExistsByName(ctx, SessionName(id))
}

// Create creates a detached mux session for id at the default size rooted at
// workingDir (or the user's home if empty), then applies session options
// (mouse off, status bar off, secret env scrubbed). If a session already
// exists for id, options are re-applied and Create returns successfully
// without creating a new session — Create is idempotent.
func (d *Driver) Create(ctx context.Context, id string, workingDir string) error {
	name := SessionName(id)
	if !ValidateName(name) {
		return &MuxError{Args: []string{"create"}, Err: fmt.Errorf("invalid session name %q", name)}
	}

	if d.ExistsByName(ctx, name) {
		slog.Debug("[muxdriver] session already exists, reapplying options", "session", name)
		d.applySessionOptions(ctx, name)
		return nil
	}

	dir := workingDir
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = home
		}
	}

	args := []string{
		"new-session", "-d", "-s", name,
		"-x", fmt.Sprintf("%d", DefaultCols),
		"-y", fmt.Sprintf("%d", DefaultRows),
	}
	if dir != "" {
		args = append(args, "-c", dir)
	}

	if _, err := d.run(ctx, args...); err != nil {
		slog.Error("[muxdriver] session create failed", "session", name, "error", err)
		return err
	}

	d.applySessionOptions(ctx, name)
	slog.Info("[muxdriver] session created", "session", name, "workingDir", dir)
	return nil
}

// applySessionOptions disables mouse mode and the status bar, and scrubs
// the secret-env deny-list from the session's environment. Each sub-command
// is best-effort: a failure to set one option does not abort the others.
func (d *Driver) applySessionOptions(ctx context.Context, name string) {
	if _, err := d.run(ctx, "set-option", "-t", name, "mouse", "off"); err != nil {
		slog.Debug("[muxdriver] disable mouse failed", "session", name, "error", err)
	}
	if _, err := d.run(ctx, "set-option", "-t", name, "status", "off"); err != nil {
		slog.Debug("[muxdriver] disable status bar failed", "session", name, "error", err)
	}
	for _, v := range d.secretDenyList() {
		if _, err := d.run(ctx, "set-environment", "-t", name, "-u", v); err != nil {
			slog.Debug("[muxdriver] unset secret env failed", "session", name, "var", v, "error", err)
		}
	}
}

// Kill kills the mux session for id. It returns true iff a session was
// actually killed. When ignoreMissing is true (the common case), a
// "session not found" failure is swallowed and Kill returns (false, nil).
func (d *Driver) Kill(ctx context.Context, id string, ignoreMissing bool) (bool, error) {
	name := SessionName(id)
	_, err := d.run(ctx, "kill-session", "-t", name)
	if err == nil {
		slog.Info("[muxdriver] session killed", "session", name)
		return true, nil
	}

	var muxErr *MuxError
	if ignoreMissing && errors.As(err, &muxErr) && strings.Contains(strings.ToLower(muxErr.Output), "session not found") {
		slog.Debug("[muxdriver] kill target not found, ignoring", "session", name)
		return false, nil
	}
	return false, err
}

// ListPrefixed returns the set of service session ids for every mux session
// whose name carries the service prefix.
func (d *Driver) ListPrefixed(ctx context.Context) (map[string]struct{}, error) {
	out, err := d.run(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		var muxErr *MuxError
		if errors.As(err, &muxErr) {
			// No server running / no sessions is reported as a failure by tmux;
			// treat it as an empty set rather than propagating an error.
			return map[string]struct{}{}, nil
		}
		return nil, err
	}

	ids := make(map[string]struct{})
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if id, ok := strings.CutPrefix(line, sessionPrefix); ok && id != "" {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

// CaptureScrollback captures full pane history (including escape sequences,
// wrapped lines joined) for the given external session name. Returns nil on
// failure rather than propagating an error: a missing scrollback is not
// fatal to the caller, which simply skips replay.
func (d *Driver) CaptureScrollback(ctx context.Context, name string) *string {
	out, err := d.run(ctx, "capture-pane", "-t", name, "-S", "-", "-e", "-J", "-p")
	if err != nil {
		slog.Warn("[muxdriver] scrollback capture failed", "session", name, "error", err)
		return nil
	}
	return &out
}

// ResizeWindow resizes the mux window backing name to cols x rows.
func (d *Driver) ResizeWindow(ctx context.Context, name string, cols, rows int) bool {
	_, err := d.run(ctx, "resize-window", "-t", name, "-x", fmt.Sprintf("%d", cols), "-y", fmt.Sprintf("%d", rows))
	if err != nil {
		slog.Warn("[muxdriver] resize-window failed", "session", name, "cols", cols, "rows", rows, "error", err)
		return false
	}
	return true
}

// auxiliaryCommandName is the process name IsAuxiliaryRunning looks for
// among a session's panes.
const auxiliaryCommandName = "claude"

// IsAuxiliaryRunning reports whether any pane in the named session is
// currently running the auxiliary assistant process. This is the
// process-check heuristic (pane_current_command), which SPEC_FULL.md
// designates authoritative over decoded-output regex matching.
func (d *Driver) IsAuxiliaryRunning(ctx context.Context, name string) bool {
	out, err := d.run(ctx, "list-panes", "-t", name, "-F", "#{pane_current_command}")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(strings.ToLower(strings.TrimSpace(line)), auxiliaryCommandName) {
			return true
		}
	}
	return false
}
