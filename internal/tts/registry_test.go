package tts

import (
	"context"
	"errors"
	"testing"
)

func TestRegistrySkipsFailedInitialization(t *testing.T) {
	good := newFakeBackend("alpha")
	bad := newFakeBackend("beta")
	bad.initErr = errors.New("model weights missing")

	registry, err := NewRegistry(context.Background(), []Backend{good, bad}, testLogger())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	if _, ok := registry.Get("alpha"); !ok {
		t.Error("healthy backend missing from registry")
	}
	if _, ok := registry.Get("beta"); ok {
		t.Error("failed backend present in registry")
	}
	if n := len(registry.All()); n != 1 {
		t.Errorf("All() returned %d backends, want 1", n)
	}
}

func TestRegistryAllBackendsFail(t *testing.T) {
	a := newFakeBackend("alpha")
	b := newFakeBackend("beta")
	a.initErr = errors.New("down")
	b.initErr = errors.New("down")

	_, err := NewRegistry(context.Background(), []Backend{a, b}, testLogger())
	if !errors.Is(err, ErrNoBackends) {
		t.Fatalf("err = %v, want ErrNoBackends", err)
	}
}

func TestRegistryPreservesOrder(t *testing.T) {
	backends := []Backend{
		newFakeBackend("alpha"),
		newFakeBackend("beta"),
		newFakeBackend("gamma"),
	}

	registry, err := NewRegistry(context.Background(), backends, testLogger())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	want := []string{"alpha", "beta", "gamma"}
	got := registry.Names()
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
