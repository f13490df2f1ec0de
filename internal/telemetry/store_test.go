package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Reading) Reading {
	t.Helper()
	select {
	case r, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reading")
	}
	return Reading{}
}

func TestFacilities(t *testing.T) {
	want := []string{"faculties/arts", "faculties/science", "faculties/engineering"}
	for i, f := range Facilities() {
		if f.Key() != want[i] {
			t.Errorf("Key() = %q, want %q", f.Key(), want[i])
		}
	}
	if Engineering.Title() != "Engineering Faculty" {
		t.Errorf("Title() = %q", Engineering.Title())
	}
	if f, err := ParseFacility(" Science "); err != nil || f != Science {
		t.Errorf("ParseFacility = %v, %v", f, err)
	}
	if _, err := ParseFacility("law"); err == nil {
		t.Error("expected error for unknown facility")
	}
}

func TestMemoryStoreSubscribe(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := Reading{Temperature: 21.5, Humidity: 50, SoilMoisture: 44.2}
	if err := store.Update(ctx, Arts, first); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	ch, err := store.Subscribe(ctx, Arts)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if got := recv(t, ch); got != first {
		t.Fatalf("initial reading = %+v, want %+v", got, first)
	}

	second := Reading{Temperature: 30.1, Humidity: 61, SoilMoisture: 55}
	store.Update(ctx, Arts, second)
	if got := recv(t, ch); got != second {
		t.Fatalf("update = %+v, want %+v", got, second)
	}

	// Other facilities do not leak into this subscription.
	store.Update(ctx, Science, first)
	select {
	case r := <-ch:
		t.Fatalf("unexpected reading %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryStoreSubscribeWithoutValue(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	ch, _ := store.Subscribe(ctx, Engineering)
	select {
	case r := <-ch:
		t.Fatalf("unexpected initial reading %+v", r)
	case <-time.After(20 * time.Millisecond):
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestHubKeepsLatest(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := hub.Subscribe(ctx, Arts, nil)
	for i := 1; i <= 5; i++ {
		hub.Publish(Arts, Reading{Temperature: float64(i)})
	}

	if got := recv(t, ch); got.Temperature != 5 {
		t.Fatalf("slow subscriber got %v, want latest 5", got.Temperature)
	}
	if hub.Subscribers(Arts) != 1 {
		t.Fatalf("Subscribers = %d", hub.Subscribers(Arts))
	}

	hub.Close()
	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed by hub.Close")
	}
}

type fakeRealtimeDB struct {
	mu     sync.Mutex
	values map[string]map[string]interface{}
	raw    map[string]string
}

func (f *fakeRealtimeDB) update(ctx context.Context, path string, values map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values == nil {
		f.values = make(map[string]map[string]interface{})
	}
	node := f.values[path]
	if node == nil {
		node = make(map[string]interface{})
		f.values[path] = node
	}
	for k, v := range values {
		node[k] = v
	}
	delete(f.raw, path)
	return nil
}

func (f *fakeRealtimeDB) get(ctx context.Context, path string, v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if raw, ok := f.raw[path]; ok {
		return json.Unmarshal([]byte(raw), v)
	}
	node, ok := f.values[path]
	if !ok {
		return json.Unmarshal([]byte("null"), v)
	}
	data, err := json.Marshal(node)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func TestFirebaseStoreStringValues(t *testing.T) {
	rdb := &fakeRealtimeDB{raw: map[string]string{
		"faculties/science": `{"temperature":"27.4","humidity":"55.0","soilMoisture":61.2}`,
	}}
	store := newFirebaseStore(rdb, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := store.Subscribe(ctx, Science)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	got := recv(t, ch)
	if got.Temperature != 27.4 || got.Humidity != 55 || got.SoilMoisture != 61.2 {
		t.Fatalf("unexpected reading %+v", got)
	}
}

func TestFirebaseStoreUpdateAndPoll(t *testing.T) {
	rdb := &fakeRealtimeDB{}
	store := newFirebaseStore(rdb, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := store.Subscribe(ctx, Arts)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	at := time.UnixMilli(1720000000123).UTC()
	want := Reading{Temperature: 22.2, Humidity: 48.8, SoilMoisture: 66.6, UpdatedAt: at}
	if err := store.Update(ctx, Arts, want); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if got := recv(t, ch); got != want {
		t.Fatalf("polled %+v, want %+v", got, want)
	}

	rdb.mu.Lock()
	node := rdb.values["faculties/arts"]
	rdb.mu.Unlock()
	if node["soilMoisture"] != 66.6 || node["updatedAt"] != int64(1720000000123) {
		t.Fatalf("unexpected stored node %+v", node)
	}
}

func TestMeasureRejectsGarbage(t *testing.T) {
	var w wireReading
	if err := json.Unmarshal([]byte(`{"temperature":"warm"}`), &w); err == nil {
		t.Fatal("expected error for non numeric measure")
	}
}

type fakePublisher struct {
	mu   sync.Mutex
	got  []Facility
	fail bool
}

func (p *fakePublisher) PublishReading(f Facility, r Reading) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, f)
	if p.fail {
		return errors.New("broker down")
	}
	return nil
}

func TestMirror(t *testing.T) {
	pub := &fakePublisher{fail: true}
	inner := NewMemoryStore()
	m := NewMirror(inner, pub)

	if err := m.Update(context.Background(), Engineering, Reading{Temperature: 25}); err != nil {
		t.Fatalf("publish failure must not fail Update: %v", err)
	}
	if len(pub.got) != 1 || pub.got[0] != Engineering {
		t.Fatalf("publisher saw %v", pub.got)
	}
	if r, ok := inner.Get(Engineering); !ok || r.Temperature != 25 {
		t.Fatalf("inner store not updated: %+v %v", r, ok)
	}
}
