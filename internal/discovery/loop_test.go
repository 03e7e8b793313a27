package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gatewarden/gatewarden/internal/forwarder"
)

type fakeRuntime struct {
	mu         sync.Mutex
	containers []ContainerInfo
	err        error
	joinErrFor string
	joined     []string
}

func (f *fakeRuntime) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.containers, nil
}

func (f *fakeRuntime) JoinNetwork(ctx context.Context, network, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErrFor != "" && containerID == f.joinErrFor {
		return errors.New("join failed")
	}
	f.joined = append(f.joined, containerID)
	return nil
}

type fakeSink struct {
	mu      sync.Mutex
	targets []forwarder.Target
}

func (s *fakeSink) UpdateTargets(targets []forwarder.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = targets
}

func (s *fakeSink) get() []forwarder.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targets
}

func TestLoop_SkipsSelfAndStoppedContainers(t *testing.T) {
	rt := &fakeRuntime{containers: []ContainerInfo{
		{ID: "self", Name: "gatewarden-self", IP: "10.0.0.1", Ports: []int{8080}, Running: true},
		{ID: "c1", Name: "backend-1", IP: "10.0.0.2", Ports: []int{8080}, Running: true},
		{ID: "c2", Name: "backend-2", IP: "10.0.0.3", Ports: []int{8080}, Running: false},
	}}
	sink := &fakeSink{}
	l := New(Config{Runtime: rt, Sink: sink, Network: "gatewarden_net", SelfName: "gatewarden-self", Interval: time.Hour})
	defer l.Close()

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.get()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	targets := sink.get()
	if len(targets) != 1 || targets[0].Name != "backend-1" {
		t.Fatalf("targets = %+v", targets)
	}
}

func TestLoop_MultiplePortsYieldMultipleTargets(t *testing.T) {
	rt := &fakeRuntime{containers: []ContainerInfo{
		{ID: "c1", Name: "backend-1", IP: "10.0.0.2", Ports: []int{8080, 9090}, Running: true},
	}}
	sink := &fakeSink{}
	l := New(Config{Runtime: rt, Sink: sink, Network: "net", Interval: time.Hour})
	defer l.Close()

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.get()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	targets := sink.get()
	if len(targets) != 2 {
		t.Fatalf("expected one target per port, got %+v", targets)
	}
}

func TestLoop_JoinFailureSkipsContainerButKeepsOthers(t *testing.T) {
	rt := &fakeRuntime{
		joinErrFor: "bad",
		containers: []ContainerInfo{
			{ID: "bad", Name: "flaky", IP: "10.0.0.4", Ports: []int{8080}, Running: true},
			{ID: "c1", Name: "backend-1", IP: "10.0.0.2", Ports: []int{8080}, Running: true},
		},
	}
	sink := &fakeSink{}
	l := New(Config{Runtime: rt, Sink: sink, Network: "net", Interval: time.Hour})
	defer l.Close()

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.get()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	targets := sink.get()
	if len(targets) != 1 || targets[0].Name != "backend-1" {
		t.Fatalf("expected only the container that joined successfully, got %+v", targets)
	}
}

func TestLoop_ScanErrorKeepsPriorTargets(t *testing.T) {
	rt := &fakeRuntime{containers: []ContainerInfo{
		{ID: "c1", Name: "backend-1", IP: "10.0.0.2", Ports: []int{8080}, Running: true},
	}}
	sink := &fakeSink{}
	l := New(Config{Runtime: rt, Sink: sink, Network: "net", Interval: time.Hour})
	defer l.Close()

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.get()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	rt.mu.Lock()
	rt.err = errors.New("docker unreachable")
	rt.mu.Unlock()

	l.scan()

	targets := sink.get()
	if len(targets) != 1 {
		t.Fatalf("expected prior targets retained, got %+v", targets)
	}
	if l.Stats().LastError == "" {
		t.Fatal("expected LastError to be recorded")
	}
}
