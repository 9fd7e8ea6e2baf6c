// Package ptybridge owns one WebSocket<->PTY bridge for the lifetime of a
// single client connection: it spawns a pseudo-terminal that attaches to a
// mux session (optionally chaining a switch-client to a stored auxiliary
// target), replays scrollback, then pipes bytes bidirectionally until the
// client disconnects or the mux session exits. The mux session itself is
// never touched on disconnect — persistence past the bridge's lifetime is
// the whole point.
package ptybridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/gorilla/websocket"

	"github.com/summitflow/summitflow-term/internal/muxdriver"
	"github.com/summitflow/summitflow-term/internal/procutil"
	"github.com/summitflow/summitflow-term/internal/store"
)

// ErrSessionDead is returned by Run when EnsureAlive reports the session
// cannot be brought up; the caller has already been closed with code 4000.
var ErrSessionDead = errors.New("ptybridge: session dead")

// resizeHandshakeTimeout bounds how long Run waits for the client's first
// {"resize": ...} control message before falling back to default dimensions.
const resizeHandshakeTimeout = 5 * time.Second

// auxiliaryLaunchDelay is how long Run waits after attach before writing the
// auxiliary launch command, giving the shell time to settle.
const auxiliaryLaunchDelay = 800 * time.Millisecond

// auxiliaryLaunchCommand is written to the PTY to start the assistant when
// an auxiliary-mode session has no assistant process running yet.
const auxiliaryLaunchCommand = "claude\r"

// childReapPollInterval and childReapPollAttempts bound teardown's
// non-blocking wait loop after SIGKILL, matching spec.md's "20 short waits
// 10ms apart, then one final blocking wait" sequence. Implemented here with
// a channel fed by a single blocking os.Process.Wait goroutine rather than
// a raw WNOHANG syscall loop, so the same code works on every target the
// PTY layer supports — the observable timing and behavior are identical.
const (
	childReapPollInterval = 10 * time.Millisecond
	childReapPollAttempts = 20
)

// Store is the subset of *store.Store the bridge needs.
type Store interface {
	GetSession(id string) (store.Session, error)
	Touch(id string) error
}

// MuxDriver is the subset of *muxdriver.Driver the bridge needs.
type MuxDriver interface {
	Create(ctx context.Context, id string, workingDir string) error
	ExistsByName(ctx context.Context, name string) bool
	CaptureScrollback(ctx context.Context, name string) *string
	ResizeWindow(ctx context.Context, name string, cols, rows int) bool
	IsAuxiliaryRunning(ctx context.Context, name string) bool
}

// Lifecycle is the subset of *lifecycle.Core the bridge needs.
type Lifecycle interface {
	EnsureAlive(ctx context.Context, id string) bool
}

// WSConn is the subset of *wsserver.Conn the bridge needs; defined as an
// interface so tests can substitute an in-memory fake.
type WSConn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteText(data []byte) error
	WriteBinary(data []byte) error
	SetReadDeadline(d time.Duration) error
	ResetReadDeadline() error
	Close() error
	CloseWithStatus(code int, reason string) error
}

// Deps are the bridge's collaborators.
type Deps struct {
	Store     Store
	Mux       MuxDriver
	Lifecycle Lifecycle
}

// Bridge spawns and tears down one PTY per Run call.
type Bridge struct {
	deps Deps
}

// New builds a Bridge from its collaborators.
func New(deps Deps) *Bridge {
	return &Bridge{deps: deps}
}

// Run blocks for the lifetime of one WebSocket<->PTY bridge: setup, steady
// state, teardown. It returns when the client disconnects, the mux session
// exits, or setup fails.
func (b *Bridge) Run(ctx context.Context, conn WSConn, sessionID string) error {
	if !b.deps.Lifecycle.EnsureAlive(ctx, sessionID) {
		slog.Warn("[ptybridge] session dead at connect", "id", sessionID)
		payload, _ := json.Marshal(map[string]string{
			"error":   "session_dead",
			"message": "session could not be resurrected",
		})
		_ = conn.CloseWithStatus(4000, string(payload))
		return ErrSessionDead
	}

	if err := b.deps.Store.Touch(sessionID); err != nil {
		slog.Warn("[ptybridge] touch failed, continuing", "id", sessionID, "error", err)
	}

	sess, err := b.deps.Store.GetSession(sessionID)
	if err != nil {
		_ = conn.CloseWithStatus(4000, `{"error":"session_dead","message":"session row missing"}`)
		return fmt.Errorf("ptybridge: get session: %w", err)
	}

	workingDir := ""
	if sess.WorkingDir != nil {
		workingDir = *sess.WorkingDir
	}
	if err := b.deps.Mux.Create(ctx, sessionID, workingDir); err != nil {
		_ = conn.CloseWithStatus(4000, `{"error":"session_dead","message":"mux create failed"}`)
		return fmt.Errorf("ptybridge: mux create: %w", err)
	}

	baseName := muxdriver.SessionName(sessionID)
	child, ptmx, err := b.spawnAttachChild(baseName, sess.LastTargetSession)
	if err != nil {
		_ = conn.CloseWithStatus(4000, `{"error":"session_dead","message":"pty spawn failed"}`)
		return fmt.Errorf("ptybridge: spawn: %w", err)
	}

	entry := registerBridge(sessionID, child.Process.Pid, baseName)
	var killOnce sync.Once
	killChild := func() {
		killOnce.Do(func() { b.killChild(child, ptmx, sessionID) })
	}
	defer b.teardown(conn, sessionID, entry, killChild)

	cols, rows := b.resizeHandshake(ctx, conn, ptmx, baseName)
	slog.Info("[ptybridge] attached", "id", sessionID, "mux_session", baseName, "cols", cols, "rows", rows)

	if scrollback := b.deps.Mux.CaptureScrollback(ctx, baseName); scrollback != nil && *scrollback != "" {
		if err := conn.WriteText([]byte(*scrollback)); err != nil {
			slog.Warn("[ptybridge] scrollback replay write failed", "id", sessionID, "error", err)
		}
	}

	if sess.Mode == "auxiliary" && !b.deps.Mux.IsAuxiliaryRunning(ctx, baseName) {
		go b.launchAuxiliary(ptmx, sessionID, baseName)
	}

	exitedCh := make(chan struct{})
	var exitedOnce sync.Once
	markExited := func() { exitedOnce.Do(func() { close(exitedCh) }) }

	ob := newOutputBuffer(0, 0, func(chunk []byte) {
		if err := conn.WriteText(chunk); err != nil {
			slog.Debug("[ptybridge] write to client failed", "id", sessionID, "error", err)
			return
		}
		if strings.Contains(string(chunk), "[exited]") {
			markExited()
		}
	})
	ob.start()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		b.readLoop(ptmx, ob, sessionID)
		markExited()
	}()

	b.writeLoop(ctx, conn, ptmx, baseName, sessionID, exitedCh)

	// writeLoop returning does not mean the PTY read has unblocked: the
	// attached tmux-attach child is still alive and emits no EOF on its own,
	// so readLoop stays parked in ptmx.Read. Killing the child and closing
	// the master fd here — ahead of the deferred teardown, and ahead of
	// waiting on readerDone — is what actually unblocks it. Without this,
	// a client disconnect (the readErrCh path, not a mux-side exit) leaves
	// the reader goroutine, the child, and the fd all leaked forever.
	killChild()

	ob.stop()
	<-readerDone
	return nil
}

// spawnAttachChild forks a PTY whose child execs a shell invocation of
// `tmux attach-session -t <base>`, chaining `switch-client -t <target>` in
// the same tmux invocation (tmux's own `;` command separator, not the
// shell's) when a stored auxiliary target is set and still exists. Every
// name is validate_name-gated before it reaches the command line, and
// quoted anyway since a shell remains unavoidable for the chained form.
func (b *Bridge) spawnAttachChild(baseName string, lastTarget *string) (*exec.Cmd, *os.File, error) {
	if !muxdriver.ValidateName(baseName) {
		return nil, nil, fmt.Errorf("ptybridge: invalid base session name %q", baseName)
	}

	cmdline := fmt.Sprintf("tmux attach-session -t %s", shQuote(baseName))
	if lastTarget != nil && *lastTarget != "" && muxdriver.ValidateName(*lastTarget) {
		if b.deps.Mux.ExistsByName(context.Background(), *lastTarget) {
			cmdline += fmt.Sprintf(" \\; switch-client -t %s", shQuote(*lastTarget))
		}
	}

	cmd := exec.Command("bash", "-c", cmdline)
	procutil.HideWindow(cmd)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: muxdriver.DefaultCols,
		Rows: muxdriver.DefaultRows,
	})
	if err != nil {
		return nil, nil, err
	}
	return cmd, ptmx, nil
}

// shQuote wraps s in single quotes for a POSIX shell, escaping any embedded
// single quote. validate_name already restricts s to [A-Za-z0-9_-:], which
// never contains a quote, but this is applied unconditionally per spec.md's
// "quote even so" rule for the one unavoidable shell invocation.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// resizeHandshake waits up to resizeHandshakeTimeout for the client's first
// {"resize": {...}} control frame and applies it to both the PTY and the mux
// window; on timeout or any non-resize frame it falls back to mux defaults.
func (b *Bridge) resizeHandshake(ctx context.Context, conn WSConn, ptmx *os.File, muxName string) (cols, rows int) {
	cols, rows = muxdriver.DefaultCols, muxdriver.DefaultRows

	if err := conn.SetReadDeadline(resizeHandshakeTimeout); err != nil {
		slog.Warn("[ptybridge] set handshake deadline failed", "error", err)
	}
	mt, data, err := conn.ReadMessage()
	_ = conn.ResetReadDeadline()
	if err != nil {
		slog.Debug("[ptybridge] resize handshake timed out, using defaults", "muxName", muxName)
		return cols, rows
	}

	msg, ok := parseControlMessage(mt, data)
	if !ok || msg.Resize == nil {
		return cols, rows
	}
	cols, rows = msg.Resize.Cols, msg.Resize.Rows
	if cols <= 0 || rows <= 0 {
		return muxdriver.DefaultCols, muxdriver.DefaultRows
	}
	applyResize(ptmx, cols, rows)
	b.deps.Mux.ResizeWindow(ctx, muxName, cols, rows)
	return cols, rows
}

// launchAuxiliary waits a short settle delay, then writes the assistant
// launch command once. Any later race between an already-verified running
// state and this write is harmless: starting the command twice in a shell
// that already has it running just produces an extra keystroke, and the
// AuxiliaryLifecycle verification pass is what actually decides final state.
func (b *Bridge) launchAuxiliary(ptmx *os.File, sessionID, muxName string) {
	time.Sleep(auxiliaryLaunchDelay)
	if _, err := ptmx.Write([]byte(auxiliaryLaunchCommand)); err != nil {
		slog.Warn("[ptybridge] auxiliary launch write failed", "id", sessionID, "mux_session", muxName, "error", err)
	}
}

// controlMessage is the client->server JSON control envelope.
type controlMessage struct {
	Resize  *resizeMessage `json:"resize"`
	Refresh bool           `json:"refresh"`
}

type resizeMessage struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// parseControlMessage reports whether data is a text frame whose first
// non-whitespace byte is '{' and parses as JSON; malformed JSON or a binary
// frame falls through as "not a control message" so the caller treats it as
// raw input instead.
func parseControlMessage(messageType int, data []byte) (controlMessage, bool) {
	if messageType != websocket.TextMessage {
		return controlMessage{}, false
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed[0] != '{' {
		return controlMessage{}, false
	}
	var msg controlMessage
	if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
		return controlMessage{}, false
	}
	return msg, true
}

func applyResize(ptmx *os.File, cols, rows int) {
	if err := pty.Setsize(ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		slog.Debug("[ptybridge] pty resize failed", "error", err)
	}
}

// readLoop reads PTY output until EOF/error, decoding UTF-8 across read
// boundaries and handing complete text to ob for batched delivery. Runs in
// its own goroutine for the lifetime of the bridge.
func (b *Bridge) readLoop(ptmx *os.File, ob *outputBuffer, sessionID string) {
	buf := make([]byte, 8*1024)
	var tail []byte

	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			chunk := append(append([]byte(nil), tail...), buf[:n]...)
			complete, newTail := splitIncompleteUTF8Tail(chunk)
			if len(newTail) > maxUTF8TailBytes {
				// Not a genuine truncated sequence; let the decoder replace it.
				complete, newTail = chunk, nil
			}
			tail = append([]byte(nil), newTail...)
			if len(complete) > 0 {
				ob.write(complete)
			}
		}
		if err != nil {
			if len(tail) > 0 {
				ob.write(tail)
			}
			slog.Debug("[ptybridge] read loop ended", "id", sessionID, "error", err)
			return
		}
	}
}

// writeLoop reads client frames and applies them to the PTY until the
// client disconnects, the mux session exits (exitedCh), or ctx is canceled.
func (b *Bridge) writeLoop(ctx context.Context, conn WSConn, ptmx *os.File, muxName, sessionID string, exitedCh <-chan struct{}) {
	frames := make(chan wsFrame)
	readErrCh := make(chan error, 1)
	go func() {
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				readErrCh <- err
				return
			}
			frames <- wsFrame{messageType: mt, data: data}
		}
	}()

	for {
		select {
		case <-exitedCh:
			return
		case <-ctx.Done():
			return
		case <-readErrCh:
			return
		case f := <-frames:
			b.applyFrame(ctx, ptmx, muxName, f)
		}
	}
}

type wsFrame struct {
	messageType int
	data        []byte
}

func (b *Bridge) applyFrame(ctx context.Context, ptmx *os.File, muxName string, f wsFrame) {
	if !utf8Text(f.messageType) {
		if _, err := ptmx.Write(f.data); err != nil {
			slog.Debug("[ptybridge] pty write (binary) failed", "error", err)
		}
		return
	}

	msg, ok := parseControlMessage(f.messageType, f.data)
	if !ok {
		if _, err := ptmx.Write(f.data); err != nil {
			slog.Debug("[ptybridge] pty write (raw text) failed", "error", err)
		}
		return
	}

	if msg.Resize != nil && msg.Resize.Cols > 0 && msg.Resize.Rows > 0 {
		applyResize(ptmx, msg.Resize.Cols, msg.Resize.Rows)
		b.deps.Mux.ResizeWindow(ctx, muxName, msg.Resize.Cols, msg.Resize.Rows)
	}
	if msg.Refresh {
		if _, err := ptmx.Write([]byte{0x0c}); err != nil {
			slog.Debug("[ptybridge] refresh write failed", "error", err)
		}
	}
}

func utf8Text(messageType int) bool { return messageType == websocket.TextMessage }

// teardown runs on every exit path: it guarantees killChild has run (it is
// normally already run explicitly before Run awaits readerDone, so this is
// typically a no-op thanks to killChild's own sync.Once), then drops the
// registry entry and closes the client connection. The mux session itself
// is never touched here.
func (b *Bridge) teardown(conn WSConn, sessionID string, entry *bridgeEntry, killChild func()) {
	killChild()
	unregisterBridge(sessionID, entry)
	_ = conn.Close()
	slog.Info("[ptybridge] torn down", "id", sessionID)
}

// killChild SIGKILLs cmd and reaps it, then closes the master fd — the
// only two things that unblock a readLoop parked in ptmx.Read against a
// still-attached tmux-attach child. Callers guard this with a sync.Once
// since it runs both explicitly (to unblock the reader before Run awaits
// readerDone) and again from teardown (a no-op on every path except a
// setup failure that never reached steady state).
func (b *Bridge) killChild(cmd *exec.Cmd, ptmx *os.File, sessionID string) {
	if cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			slog.Debug("[ptybridge] sigkill failed", "id", sessionID, "error", err)
		}
	}
	reapChild(cmd)

	if err := ptmx.Close(); err != nil {
		slog.Debug("[ptybridge] close master fd failed", "id", sessionID, "error", err)
	}
}

// reapChild waits for cmd's process to exit, polling every
// childReapPollInterval up to childReapPollAttempts times before falling
// back to one final blocking wait. A single goroutine performs the actual
// blocking Wait call exactly once; the polling loop here only times out on
// a channel, which is the portable equivalent of the non-blocking
// WNOHANG-then-blocking-wait sequence spec.md describes.
func reapChild(cmd *exec.Cmd) {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	for i := 0; i < childReapPollAttempts; i++ {
		select {
		case err := <-done:
			logWaitErr(err)
			return
		case <-time.After(childReapPollInterval):
		}
	}
	logWaitErr(<-done)
}

func logWaitErr(err error) {
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.Debug("[ptybridge] child wait", "error", err)
	}
}
