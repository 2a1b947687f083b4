package netmon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/helgasoul/eva-sync/internal/bus"
)

type fakeProber struct {
	online bool
}

func (p *fakeProber) Probe(context.Context) bool { return p.online }

func TestStartsOffline(t *testing.T) {
	m := New(&fakeProber{}, bus.New(), nil, time.Second)
	if m.Online() {
		t.Error("monitor should start offline")
	}
}

func TestTransitionPublishesEvent(t *testing.T) {
	b := bus.New()
	m := New(&fakeProber{}, b, nil, time.Second)

	ch, unsub := b.Subscribe("net.", 10)
	defer unsub()

	m.SetOnline(true)
	if !m.Online() {
		t.Error("Online() = false after SetOnline(true)")
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindNetOnline {
			t.Errorf("got kind %q, want %q", evt.Kind, bus.KindNetOnline)
		}
		sc, ok := evt.Payload.(bus.StatusChange)
		if !ok || !sc.Online {
			t.Errorf("payload = %v, want StatusChange{Online: true}", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for net.online event")
	}

	m.SetOnline(false)
	select {
	case evt := <-ch:
		if evt.Kind != bus.KindNetOffline {
			t.Errorf("got kind %q, want %q", evt.Kind, bus.KindNetOffline)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for net.offline event")
	}
}

func TestNoEventWithoutTransition(t *testing.T) {
	b := bus.New()
	m := New(&fakeProber{}, b, nil, time.Second)

	ch, unsub := b.Subscribe("net.", 10)
	defer unsub()

	m.SetOnline(false) // already offline

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStopConcurrentWithStart(t *testing.T) {
	m := New(&fakeProber{}, bus.New(), nil, time.Hour)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.Start(context.Background())
	}()
	go func() {
		defer wg.Done()
		m.Stop()
	}()
	wg.Wait()
	m.Stop()
}

func TestPollLoopDrivesState(t *testing.T) {
	b := bus.New()
	p := &fakeProber{online: true}
	m := New(p, b, nil, 10*time.Millisecond)

	m.Start(context.Background())
	defer m.Stop()

	deadline := time.After(time.Second)
	for !m.Online() {
		select {
		case <-deadline:
			t.Fatal("monitor never came online")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
