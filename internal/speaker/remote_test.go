package speaker

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func startRemote(t *testing.T, reg *Registry, id string, local *MockSink) (*Remote, *BusSink, string) {
	t.Helper()
	client := reg.bus
	dir := t.TempDir()
	remote := NewRemote(id, client, local, dir, 100*time.Millisecond, newLogger())
	if err := remote.Start(context.Background()); err != nil {
		t.Fatalf("start remote: %v", err)
	}
	t.Cleanup(remote.Close)

	deadline := time.Now().Add(2 * time.Second)
	for !reg.Online(id) {
		if time.Now().After(deadline) {
			t.Fatalf("remote speaker %s never announced itself", id)
		}
		time.Sleep(10 * time.Millisecond)
	}

	sink, err := NewBusSink(id, client, reg.Online, 2, newLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sink.Close() })
	return remote, sink, dir
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(context.Background(), startBus(t), time.Second, newLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(reg.Close)
	return reg
}

func TestRemoteRoundTrip(t *testing.T) {
	reg := newTestRegistry(t)
	remote, sink, dir := startRemote(t, reg, "kitchen", NewMockSink("mock", 20*time.Millisecond))

	done := make(chan error, 1)
	if err := sink.Play(tempResource(t), func(err error) { done <- err }); err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := waitResult(t, done); err != nil {
		t.Fatalf("expected remote playback to complete, got %v", err)
	}

	remote.janitor.Wait()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected staged audio to be reclaimed, %d files left", len(entries))
	}
}

func TestRemoteStop(t *testing.T) {
	reg := newTestRegistry(t)
	local := NewMockSink("slow", time.Hour)
	_, sink, _ := startRemote(t, reg, "attic", local)

	done := make(chan error, 1)
	if err := sink.Play(tempResource(t), func(err error) { done <- err }); err != nil {
		t.Fatalf("play: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !local.Playing() {
		if time.Now().After(deadline) {
			t.Fatal("remote never started playing")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := sink.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := waitResult(t, done); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped from remote, got %v", err)
	}
}
