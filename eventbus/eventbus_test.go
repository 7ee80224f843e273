package eventbus

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestLocalWaitFor(t *testing.T) {
	b := NewLocal()
	done := make(chan error, 1)
	go func() { done <- b.WaitFor(context.Background(), "go") }()
	waitUntil(t, func() bool { return b.Waiting() == 1 })

	b.Publish(context.Background(), "nope")
	select {
	case <-done:
		t.Fatal("WaitFor returned on a different event")
	case <-time.After(10 * time.Millisecond):
	}

	b.Publish(context.Background(), `"go"`)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestLocalEventsBeforeSubscribeAreLost(t *testing.T) {
	b := NewLocal()
	b.Publish(context.Background(), "go")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.WaitFor(ctx, "go"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the early event to be lost, got %v", err)
	}
	if b.Waiting() != 0 {
		t.Fatal("cancelled waiter not removed")
	}
}

func TestLocalFanOut(t *testing.T) {
	b := NewLocal()
	done := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() { done <- b.WaitFor(context.Background(), "1") }()
	}
	waitUntil(t, func() bool { return b.Waiting() == 3 })
	b.Publish(context.Background(), "1")
	for i := 0; i < 3; i++ {
		if err := <-done; err != nil {
			t.Fatal(err)
		}
	}
}

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "mbus")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	sock := filepath.Join(dir, "bus.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatal(err)
	}
	hub := NewHub(nil)
	srv := httptest.NewUnstartedServer(hub)
	srv.Listener = ln
	srv.Start()
	t.Cleanup(srv.Close)
	return hub, sock
}

func TestSocketRoundTrip(t *testing.T) {
	hub, sock := startHub(t)
	bus := NewSocket(sock)

	done := make(chan error, 1)
	go func() { done <- bus.WaitFor(context.Background(), "go") }()
	waitUntil(t, func() bool { return hub.Connections() == 1 })

	if err := bus.Publish(context.Background(), "other"); err != nil {
		t.Fatal(err)
	}
	if err := bus.Publish(context.Background(), "go"); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitFor never saw the event")
	}
}

func TestHubPublishReachesSockets(t *testing.T) {
	hub, sock := startHub(t)
	bus := NewSocket(sock)
	done := make(chan error, 1)
	go func() { done <- bus.WaitFor(context.Background(), "3") }()
	waitUntil(t, func() bool { return hub.Connections() == 1 })

	hub.Publish(context.Background(), "3")
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestSocketWaitForCancel(t *testing.T) {
	hub, sock := startHub(t)
	bus := NewSocket(sock)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bus.WaitFor(ctx, "never") }()
	waitUntil(t, func() bool { return hub.Connections() == 1 })
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSocketUnreachable(t *testing.T) {
	bus := NewSocket(filepath.Join(os.TempDir(), "no-such-bus.sock"))
	if err := bus.Publish(context.Background(), "x"); !errors.Is(err, ErrEventBus) {
		t.Fatalf("expected ErrEventBus, got %v", err)
	}
	if err := bus.WaitFor(context.Background(), "x"); !errors.Is(err, ErrEventBus) {
		t.Fatalf("expected ErrEventBus, got %v", err)
	}
}
