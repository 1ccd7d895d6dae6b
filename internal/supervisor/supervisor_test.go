//go:build unix

package supervisor

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func setupSupervisor(t *testing.T) (*Supervisor, func()) {
	t.Helper()
	sup := New()
	return sup, func() { sup.Close() }
}

func waitFor(t *testing.T, sub *Subscription, typ EventType, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-sub.C:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

func TestSpawn(t *testing.T) {
	sup, cleanup := setupSupervisor(t)
	defer cleanup()
	ctx := context.Background()

	t.Run("MissingBinaryFailsSynchronously", func(t *testing.T) {
		_, err := sup.Spawn(ctx, SpawnConfig{
			SessionID: "missing",
			Command:   "definitely-not-a-real-binary-xyz",
		})
		if err == nil {
			t.Fatal("expected synchronous spawn failure")
		}
	})

	t.Run("DuplicateIDRejected", func(t *testing.T) {
		cfg := SpawnConfig{
			SessionID: "dup",
			Command:   "/bin/sh",
			Args:      []string{"-c", "sleep 30"},
		}
		if _, err := sup.Spawn(ctx, cfg); err != nil {
			t.Fatalf("first spawn failed: %v", err)
		}
		defer sup.Kill("dup")

		_, err := sup.Spawn(ctx, cfg)
		var dup *DuplicateSessionError
		if !errors.As(err, &dup) {
			t.Fatalf("expected DuplicateSessionError, got %v", err)
		}
		if dup.ID != "dup" {
			t.Errorf("expected id 'dup' in error, got %q", dup.ID)
		}
	})

	t.Run("IDFreeAfterExit", func(t *testing.T) {
		sub := sup.Subscribe("reuse")
		defer sub.Cancel()

		cfg := SpawnConfig{
			SessionID: "reuse",
			Command:   "/bin/sh",
			Args:      []string{"-c", "true"},
		}
		if _, err := sup.Spawn(ctx, cfg); err != nil {
			t.Fatalf("spawn failed: %v", err)
		}
		waitFor(t, sub, EventExit, 5*time.Second)

		if _, err := sup.Spawn(ctx, cfg); err != nil {
			t.Fatalf("respawn after exit failed: %v", err)
		}
		waitFor(t, sub, EventExit, 5*time.Second)
	})
}

func TestSessionLifecycle(t *testing.T) {
	sup, cleanup := setupSupervisor(t)
	defer cleanup()
	ctx := context.Background()

	t.Run("DataAndExitEvents", func(t *testing.T) {
		sub := sup.Subscribe("echo")
		defer sub.Cancel()

		_, err := sup.Spawn(ctx, SpawnConfig{
			SessionID: "echo",
			Command:   "/bin/sh",
			Args:      []string{"-c", "echo hello; exit 3"},
		})
		if err != nil {
			t.Fatalf("spawn failed: %v", err)
		}

		data := waitFor(t, sub, EventData, 5*time.Second)
		if data.Line != "hello" {
			t.Errorf("expected line 'hello', got %q", data.Line)
		}
		exit := waitFor(t, sub, EventExit, 5*time.Second)
		if exit.ExitCode != 3 {
			t.Errorf("expected exit code 3, got %d", exit.ExitCode)
		}
	})

	t.Run("NonZeroExitClassified", func(t *testing.T) {
		sub := sup.Subscribe("crash")
		defer sub.Cancel()

		_, err := sup.Spawn(ctx, SpawnConfig{
			SessionID: "crash",
			Command:   "/bin/sh",
			Args:      []string{"-c", "exit 1"},
		})
		if err != nil {
			t.Fatalf("spawn failed: %v", err)
		}

		aerr := waitFor(t, sub, EventAgentError, 5*time.Second)
		if aerr.Err == nil {
			t.Fatal("expected classified error on event")
		}
		if !aerr.Err.Recoverable {
			t.Error("unmatched non-zero exit defaults to recoverable")
		}
	})

	t.Run("PromptWrittenToStdin", func(t *testing.T) {
		sub := sup.Subscribe("cat")
		defer sub.Cancel()

		_, err := sup.Spawn(ctx, SpawnConfig{
			SessionID: "cat",
			Command:   "/bin/sh",
			Args:      []string{"-c", "read line; echo got:$line"},
			Prompt:    "ping",
		})
		if err != nil {
			t.Fatalf("spawn failed: %v", err)
		}

		data := waitFor(t, sub, EventData, 5*time.Second)
		if data.Line != "got:ping" {
			t.Errorf("expected prompt echoed back, got %q", data.Line)
		}
	})

	t.Run("WriteToExitedSessionIsNoop", func(t *testing.T) {
		sup.Write("no-such-session", []byte("data"))
		sup.Kill("no-such-session")
		sup.Interrupt("no-such-session")
		sup.Resize("no-such-session", 80, 24)
	})

	t.Run("KillTerminates", func(t *testing.T) {
		sub := sup.Subscribe("victim")
		defer sub.Cancel()

		handle, err := sup.Spawn(ctx, SpawnConfig{
			SessionID: "victim",
			Command:   "/bin/sh",
			Args:      []string{"-c", "sleep 60"},
		})
		if err != nil {
			t.Fatalf("spawn failed: %v", err)
		}

		sup.Kill("victim")
		select {
		case <-handle.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("kill did not terminate the session")
		}
		if handle.ExitCode() == 0 {
			t.Error("killed session should not report clean exit")
		}
	})

	t.Run("KillReachesGrandchildren", func(t *testing.T) {
		sub := sup.Subscribe("tree")
		defer sub.Cancel()

		// The trailing command keeps the shell from exec'ing the sleep, so
		// the sleep runs as a grandchild holding the pipe write ends.
		handle, err := sup.Spawn(ctx, SpawnConfig{
			SessionID: "tree",
			Command:   "/bin/sh",
			Args:      []string{"-c", "sleep 60; true"},
		})
		if err != nil {
			t.Fatalf("spawn failed: %v", err)
		}

		sup.Kill("tree")
		select {
		case <-handle.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("kill did not terminate the process tree")
		}
		exit := waitFor(t, sub, EventExit, 5*time.Second)
		if exit.ExitCode == 0 {
			t.Error("killed tree should not report clean exit")
		}
		if sup.Get("tree") != nil {
			t.Error("session should be removed after exit")
		}
	})

	t.Run("KillNotBlockedByStalledWrite", func(t *testing.T) {
		handle, err := sup.Spawn(ctx, SpawnConfig{
			SessionID: "stall",
			Command:   "/bin/sh",
			Args:      []string{"-c", "sleep 60"},
		})
		if err != nil {
			t.Fatalf("spawn failed: %v", err)
		}

		// The shell never reads stdin; this write fills the pipe and stalls.
		go sup.Write("stall", bytes.Repeat([]byte("x"), 1<<20))
		time.Sleep(50 * time.Millisecond)

		killed := make(chan struct{})
		go func() {
			sup.Kill("stall")
			close(killed)
		}()
		select {
		case <-killed:
		case <-time.After(2 * time.Second):
			t.Fatal("kill blocked behind a stalled write")
		}
		select {
		case <-handle.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("session did not exit after kill")
		}
	})
}

func TestRunCommand(t *testing.T) {
	sup, cleanup := setupSupervisor(t)
	defer cleanup()
	ctx := context.Background()

	sub := sup.Subscribe("aux")
	defer sub.Cancel()

	if err := sup.RunCommand(ctx, "aux", "echo out; echo err >&2; exit 7", "", "/bin/sh"); err != nil {
		t.Fatalf("RunCommand failed: %v", err)
	}

	stderr := waitFor(t, sub, EventStderr, 5*time.Second)
	if stderr.Line != "err" {
		t.Errorf("expected stderr 'err', got %q", stderr.Line)
	}

	exit := waitFor(t, sub, EventCommandExit, 5*time.Second)
	if exit.ExitCode != 7 {
		t.Errorf("expected exit code 7, got %d", exit.ExitCode)
	}
	if exit.Output != "out" {
		t.Errorf("expected captured stdout 'out', got %q", exit.Output)
	}
	if exit.Command == "" {
		t.Error("command-exit event should carry the command")
	}
}
