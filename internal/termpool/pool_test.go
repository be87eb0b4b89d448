package termpool

import (
	"errors"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testPool(t *testing.T, capacity int) *Pool {
	t.Helper()
	p := New(&Config{Capacity: capacity, Rows: 24, Cols: 80})
	t.Cleanup(p.KillAll)
	return p
}

func TestSpawnAtCapacity(t *testing.T) {
	pool := testPool(t, 2)

	for i := 0; i < 2; i++ {
		if _, err := pool.Spawn("sleep", []string{"60"}, nil); err != nil {
			t.Fatalf("spawn %d failed: %v", i, err)
		}
	}

	if _, err := pool.Spawn("sleep", []string{"60"}, nil); !errors.Is(err, ErrAtCapacity) {
		t.Fatalf("expected ErrAtCapacity, got %v", err)
	}
	if got := pool.ActiveCount(); got != 2 {
		t.Errorf("expected 2 active sessions, got %d", got)
	}
}

func TestReleaseFreesSlot(t *testing.T) {
	pool := testPool(t, 1)

	first, err := pool.Spawn("sleep", []string{"60"}, nil)
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}

	if _, err := pool.Spawn("sleep", []string{"60"}, nil); !errors.Is(err, ErrAtCapacity) {
		t.Fatalf("expected ErrAtCapacity, got %v", err)
	}

	pool.Release(first.ID)
	// Idempotent: a second release of the same id is a no-op.
	pool.Release(first.ID)

	if _, err := pool.Spawn("sleep", []string{"60"}, nil); err != nil {
		t.Fatalf("spawn after release failed: %v", err)
	}
	_ = first.Kill()
}

func TestKillUnknownSession(t *testing.T) {
	pool := testPool(t, 1)

	if err := pool.Kill(uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestKillRemovesSession(t *testing.T) {
	pool := testPool(t, 1)

	session, err := pool.Spawn("sleep", []string{"60"}, nil)
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}

	if err := pool.Kill(session.ID); err != nil {
		t.Fatalf("kill failed: %v", err)
	}
	if got := pool.ActiveCount(); got != 0 {
		t.Errorf("expected 0 active sessions after kill, got %d", got)
	}

	deadline := time.Now().Add(5 * time.Second)
	for session.Alive() && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if session.Alive() {
		t.Error("session still alive after kill")
	}
}

func TestConcurrentSpawnRespectsCapacity(t *testing.T) {
	// Racing spawns must not slip past the capacity check between the
	// check and the insert; exactly capacity of them may win.
	pool := testPool(t, 2)

	const workers = 16
	start := make(chan struct{})
	var wg sync.WaitGroup
	var spawned, atCapacity atomic.Int32

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := pool.Spawn("sleep", []string{"60"}, nil)
			switch {
			case err == nil:
				spawned.Add(1)
			case errors.Is(err, ErrAtCapacity):
				atCapacity.Add(1)
			default:
				t.Errorf("unexpected spawn error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := spawned.Load(); got != 2 {
		t.Errorf("%d concurrent spawns succeeded, capacity is 2", got)
	}
	if got := atCapacity.Load(); got != workers-2 {
		t.Errorf("%d spawns hit capacity, want %d", got, workers-2)
	}
	if got := pool.ActiveCount(); got != 2 {
		t.Errorf("active sessions = %d, want 2", got)
	}
}

func TestFailedSpawnReleasesReservation(t *testing.T) {
	pool := testPool(t, 1)

	if _, err := pool.Spawn("definitely-not-a-real-binary-xyz", nil, nil); err == nil {
		t.Fatal("expected spawn error for missing binary")
	}
	if _, err := pool.Spawn("sleep", []string{"60"}, nil); err != nil {
		t.Fatalf("spawn after failed spawn should succeed: %v", err)
	}
}

func TestSpawnFailure(t *testing.T) {
	pool := testPool(t, 1)

	_, err := pool.Spawn("definitely-not-a-real-binary-xyz", nil, nil)
	if err == nil {
		t.Fatal("expected spawn error for missing binary")
	}
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected SpawnError, got %T: %v", err, err)
	}
	if got := pool.ActiveCount(); got != 0 {
		t.Errorf("failed spawn should not occupy a slot, got %d active", got)
	}
}

func TestSessionEcho(t *testing.T) {
	pool := testPool(t, 1)

	session, err := pool.Spawn("cat", nil, nil)
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}
	defer session.Kill()

	if err := session.SendLine("hello warden"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	var output strings.Builder
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		chunk := session.ReadTimeout(200 * time.Millisecond)
		output.Write(chunk)
		if strings.Contains(output.String(), "hello warden") {
			return
		}
	}
	t.Fatalf("did not see echoed input, got: %q", output.String())
}

func TestReadTimeoutReturnsNil(t *testing.T) {
	pool := testPool(t, 1)

	session, err := pool.Spawn("sleep", []string{"60"}, nil)
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}
	defer session.Kill()

	start := time.Now()
	if chunk := session.ReadTimeout(100 * time.Millisecond); chunk != nil {
		t.Errorf("expected nil on timeout, got %d bytes", len(chunk))
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Error("ReadTimeout returned before the timeout elapsed")
	}
}

func TestChannelsAreBounded(t *testing.T) {
	pool := testPool(t, 1)

	// A stalled consumer must cap buffered output at the channel bound
	// rather than growing memory with the process's output rate.
	session, err := pool.Spawn("yes", nil, nil)
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}
	defer session.Kill()

	if cap(session.inbound) != chanCapacity {
		t.Errorf("inbound capacity = %d, want %d", cap(session.inbound), chanCapacity)
	}
	if cap(session.outbound) != chanCapacity {
		t.Errorf("outbound capacity = %d, want %d", cap(session.outbound), chanCapacity)
	}

	time.Sleep(500 * time.Millisecond)
	if buffered := len(session.inbound); buffered > chanCapacity {
		t.Errorf("buffered %d chunks, bound is %d", buffered, chanCapacity)
	}
}

func TestSendAfterKill(t *testing.T) {
	pool := testPool(t, 1)

	session, err := pool.Spawn("cat", nil, nil)
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}

	if err := session.Kill(); err != nil {
		t.Fatalf("kill failed: %v", err)
	}
	if err := session.Send([]byte("late")); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

func TestReadAllDrainsBufferedOutput(t *testing.T) {
	pool := testPool(t, 1)

	session, err := pool.Spawn("echo", []string{"drained output"}, nil)
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}
	defer session.Kill()

	deadline := time.Now().Add(5 * time.Second)
	for session.Alive() && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	var output []byte
	for time.Now().Before(deadline) {
		output = append(output, session.ReadAll()...)
		if strings.Contains(string(output), "drained output") {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("expected buffered output after exit, got %q", output)
}

func TestKillUnblocksStalledReader(t *testing.T) {
	pool := testPool(t, 1)
	before := runtime.NumGoroutine()

	session, err := pool.Spawn("yes", nil, nil)
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}

	// Let backpressure fill the inbound channel with nobody reading, so the
	// reader goroutine is parked on the send.
	deadline := time.Now().Add(2 * time.Second)
	for len(session.inbound) < chanCapacity && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(session.inbound) < chanCapacity {
		t.Fatalf("inbound never filled, buffered %d", len(session.inbound))
	}

	if err := pool.Kill(session.ID); err != nil {
		t.Fatalf("kill failed: %v", err)
	}

	// All session goroutines must exit even though the output is never
	// drained.
	deadline = time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := runtime.NumGoroutine(); got > before {
		t.Errorf("goroutines = %d after kill, was %d before spawn", got, before)
	}
}

func TestExitCodeReported(t *testing.T) {
	pool := testPool(t, 1)

	session, err := pool.Spawn("sh", []string{"-c", "exit 3"}, nil)
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for session.Alive() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if session.Alive() {
		t.Fatal("process never exited")
	}
	if got := session.ExitCode(); got != 3 {
		t.Errorf("exit code = %d, want 3", got)
	}
}

func TestExitCodeWhileRunning(t *testing.T) {
	pool := testPool(t, 1)

	session, err := pool.Spawn("sleep", []string{"60"}, nil)
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}
	defer session.Kill()

	if got := session.ExitCode(); got != -1 {
		t.Errorf("exit code = %d while running, want -1", got)
	}
}
