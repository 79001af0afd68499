package kv

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/yaroslav-korotaev/overnats/trapdoor"
)

func TestWatcherOnlineFlipsExactlyOnce(t *testing.T) {
	store := newMemStore()
	if _, err := store.Put("a", []byte(`"x"`)); err != nil {
		t.Fatalf("put: %v", err)
	}

	sink := trapdoor.New(zerolog.Nop())
	defer sink.Close()

	w, err := store.WatchAll()
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	var flips atomic.Int32
	vw := newWatcherFromWatch(t, w, sink, &flips)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := vw.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if !vw.Online() {
		t.Fatalf("expected online")
	}

	// Trigger more updates; online must not flip again (there's only one
	// sync.Once, this just exercises the steady-state path).
	if _, err := store.Put("b", []byte(`"y"`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if flips.Load() != 1 {
		t.Fatalf("online flipped %d times, want 1", flips.Load())
	}

	if err := vw.Destroy(); err != nil {
		t.Fatalf("destroy: %v", err)
	}
}

// newWatcherFromWatch builds a Watcher[V] wired to count online transitions.
func newWatcherFromWatch(t *testing.T, w Watch, sink *trapdoor.Sink, flips *atomic.Int32) *Watcher[string] {
	t.Helper()
	var vw *Watcher[string]
	vw = newWatcher[string](w, "test", func(Update[string]) {}, sink)
	go func() {
		wasOnline := false
		for {
			if vw.Online() && !wasOnline {
				wasOnline = true
				flips.Add(1)
				return
			}
			if wasOnline {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	return vw
}

func TestWatcherDecodeErrorDoesNotAbortLoop(t *testing.T) {
	store := newMemStore()
	sink := trapdoor.New(zerolog.Nop())
	defer sink.Close()

	failures, unsub := sink.Subscribe()
	defer unsub()

	w, err := store.WatchAll()
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	var received []string
	watcher := newWatcher[string](w, "decode-test", func(u Update[string]) {
		received = append(received, u.Value)
	}, sink)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := watcher.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	// Not valid JSON for a string target — the watcher should report a
	// failure to the trapdoor sink but keep processing later updates.
	if _, err := store.Put("bad", []byte(`{not json`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put("good", []byte(`"ok"`)); err != nil {
		t.Fatalf("put: %v", err)
	}

	select {
	case f := <-failures:
		if f.Component != "decode-test" {
			t.Fatalf("got component %q, want decode-test", f.Component)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for reported decode failure")
	}

	deadline := time.After(2 * time.Second)
	for {
		found := false
		for _, v := range received {
			if v == "ok" {
				found = true
			}
		}
		if found {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("good update never delivered, got %v", received)
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := watcher.Destroy(); err != nil {
		t.Fatalf("destroy: %v", err)
	}
}
