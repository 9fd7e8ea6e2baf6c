package ptybridge

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/summitflow/summitflow-term/internal/store"
)

func TestParseControlMessageResize(t *testing.T) {
	msg, ok := parseControlMessage(1, []byte(`{"resize":{"cols":80,"rows":24}}`))
	if !ok {
		t.Fatal("expected control message to parse")
	}
	if msg.Resize == nil || msg.Resize.Cols != 80 || msg.Resize.Rows != 24 {
		t.Fatalf("got %+v", msg)
	}
}

func TestParseControlMessageRefresh(t *testing.T) {
	msg, ok := parseControlMessage(1, []byte(`  {"refresh": true}`))
	if !ok || !msg.Refresh {
		t.Fatalf("expected refresh=true, got ok=%v msg=%+v", ok, msg)
	}
}

func TestParseControlMessageFallsThroughOnMalformedJSON(t *testing.T) {
	if _, ok := parseControlMessage(1, []byte(`{not json`)); ok {
		t.Fatal("malformed JSON should not parse as a control message")
	}
}

func TestParseControlMessageRawTextIsNotControl(t *testing.T) {
	if _, ok := parseControlMessage(1, []byte("ls -la\n")); ok {
		t.Fatal("plain text not starting with '{' should not parse as control")
	}
}

func TestParseControlMessageBinaryIsNotControl(t *testing.T) {
	if _, ok := parseControlMessage(2, []byte(`{"resize":{"cols":1,"rows":1}}`)); ok {
		t.Fatal("binary frames should never be treated as control messages")
	}
}

func TestShQuoteEscapesEmbeddedQuote(t *testing.T) {
	got := shQuote("it's-fine")
	want := `'it'\''s-fine'`
	if got != want {
		t.Fatalf("shQuote: got %q want %q", got, want)
	}
}

func TestShQuoteLeavesValidateNameCharsAlone(t *testing.T) {
	got := shQuote("summitflow-abc123_def:1")
	if got != "'summitflow-abc123_def:1'" {
		t.Fatalf("got %q", got)
	}
}

// TestReadLoopReassemblesUTF8AcrossReads verifies that a multi-byte UTF-8
// sequence split across two PTY reads is reassembled intact rather than
// emitted with a replacement character at the boundary.
func TestReadLoopReassemblesUTF8AcrossReads(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()

	var mu sync.Mutex
	var collected []byte
	ob := newOutputBuffer(5*time.Millisecond, 1024, func(chunk []byte) {
		mu.Lock()
		collected = append(collected, chunk...)
		mu.Unlock()
	})
	ob.start()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		(&Bridge{}).readLoop(r, ob, "sess-utf8")
	}()

	full := []byte("héllo wörld") // contains multi-byte UTF-8 runes
	// Split the first multi-byte rune ('é' = 0xC3 0xA9) across two writes.
	split := bytes.IndexByte(full, 0xC3) + 1
	if _, err := w.Write(full[:split]); err != nil {
		t.Fatalf("write part 1: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := w.Write(full[split:]); err != nil {
		t.Fatalf("write part 2: %v", err)
	}
	w.Close()

	<-readerDone
	ob.stop()

	mu.Lock()
	got := append([]byte(nil), collected...)
	mu.Unlock()

	if !bytes.Equal(got, full) {
		t.Fatalf("got %q, want %q", got, full)
	}
	if bytes.ContainsRune(got, 0xFFFD) {
		t.Fatalf("output contains a UTF-8 replacement char: %q", got)
	}
}

// --- fakes for Run()/applyFrame() tests ---

type fakeLifecycle struct{ alive bool }

func (f fakeLifecycle) EnsureAlive(context.Context, string) bool { return f.alive }

type fakeStore struct {
	sess      store.Session
	getErr    error
	touched   bool
}

func (f *fakeStore) GetSession(string) (store.Session, error) { return f.sess, f.getErr }
func (f *fakeStore) Touch(string) error                        { f.touched = true; return nil }

type fakeMux struct {
	resizeCalls []resizeCall
}

type resizeCall struct {
	name       string
	cols, rows int
}

func (f *fakeMux) Create(context.Context, string, string) error   { return nil }
func (f *fakeMux) ExistsByName(context.Context, string) bool      { return false }
func (f *fakeMux) CaptureScrollback(context.Context, string) *string { return nil }
func (f *fakeMux) ResizeWindow(_ context.Context, name string, cols, rows int) bool {
	f.resizeCalls = append(f.resizeCalls, resizeCall{name, cols, rows})
	return true
}
func (f *fakeMux) IsAuxiliaryRunning(context.Context, string) bool { return true }

type fakeConn struct {
	closeCode   int
	closeReason string
	closed      bool
}

func (f *fakeConn) ReadMessage() (int, []byte, error)       { return 0, nil, os.ErrClosed }
func (f *fakeConn) WriteText([]byte) error                  { return nil }
func (f *fakeConn) WriteBinary([]byte) error                { return nil }
func (f *fakeConn) SetReadDeadline(time.Duration) error      { return nil }
func (f *fakeConn) ResetReadDeadline() error                 { return nil }
func (f *fakeConn) Close() error                             { f.closed = true; return nil }
func (f *fakeConn) CloseWithStatus(code int, reason string) error {
	f.closeCode, f.closeReason, f.closed = code, reason, true
	return nil
}

func TestRunClosesWithSessionDeadWhenNotEnsurable(t *testing.T) {
	b := New(Deps{
		Store:     &fakeStore{},
		Mux:       &fakeMux{},
		Lifecycle: fakeLifecycle{alive: false},
	})
	conn := &fakeConn{}

	err := b.Run(context.Background(), conn, "sess-1")
	if err != ErrSessionDead {
		t.Fatalf("got err %v, want ErrSessionDead", err)
	}
	if !conn.closed || conn.closeCode != 4000 {
		t.Fatalf("expected close with code 4000, got closed=%v code=%d", conn.closed, conn.closeCode)
	}
}

func TestApplyFrameBinaryWritesRawBytes(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	b := New(Deps{Mux: &fakeMux{}})
	b.applyFrame(context.Background(), w, "summitflow-x", wsFrame{messageType: 2, data: []byte("raw-bytes")})

	buf := make([]byte, 32)
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "raw-bytes" {
		t.Fatalf("got %q", buf[:n])
	}
}

func TestApplyFrameRefreshWritesFormFeed(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	b := New(Deps{Mux: &fakeMux{}})
	b.applyFrame(context.Background(), w, "summitflow-x", wsFrame{messageType: 1, data: []byte(`{"refresh":true}`)})

	buf := make([]byte, 8)
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 1 || buf[0] != 0x0c {
		t.Fatalf("got %v, want a single 0x0c byte", buf[:n])
	}
}

func TestApplyFrameResizeCallsMuxResizeWindow(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	mux := &fakeMux{}
	b := New(Deps{Mux: mux})
	b.applyFrame(context.Background(), w, "summitflow-x", wsFrame{messageType: 1, data: []byte(`{"resize":{"cols":100,"rows":40}}`)})

	if len(mux.resizeCalls) != 1 {
		t.Fatalf("expected exactly one ResizeWindow call, got %d", len(mux.resizeCalls))
	}
	call := mux.resizeCalls[0]
	if call.name != "summitflow-x" || call.cols != 100 || call.rows != 40 {
		t.Fatalf("got %+v", call)
	}
}
