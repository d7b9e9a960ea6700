package registry

import (
	"fmt"
	"reflect"
	"sync"
	"testing"
)

func TestMergeStampsServerFields(t *testing.T) {
	s := New()

	s.Merge(map[string]Descriptor{
		"auth": {"endpoint": "http://10.0.0.1:9000", "weight": 3},
	}, "10.0.0.1:51234")

	snap := s.Snapshot()
	desc, ok := snap["auth"]
	if !ok {
		t.Fatalf("auth missing from snapshot")
	}
	if got := desc[FieldReporterAddress]; got != "10.0.0.1:51234" {
		t.Fatalf("reporterAddress = %v, want 10.0.0.1:51234", got)
	}
	if got := desc[FieldAvailable]; got != true {
		t.Fatalf("available = %v, want true", got)
	}
	// Client-supplied fields pass through untouched.
	if got := desc["endpoint"]; got != "http://10.0.0.1:9000" {
		t.Fatalf("endpoint = %v, want passthrough", got)
	}
}

func TestMergeIdempotent(t *testing.T) {
	s := New()
	report := map[string]Descriptor{
		"auth": {"endpoint": "http://a:1"},
	}

	s.Merge(report, "client:1")
	once := s.Snapshot()

	s.Merge(report, "client:1")
	twice := s.Snapshot()

	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("double merge diverged:\n once=%v\ntwice=%v", once, twice)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
}

func TestMergeOverwrites(t *testing.T) {
	s := New()

	s.Merge(map[string]Descriptor{"auth": {"v": 1}}, "client:1")
	s.Merge(map[string]Descriptor{"auth": {"v": 2}}, "client:2")

	snap := s.Snapshot()
	if got := snap["auth"]["v"]; got != 2 {
		t.Fatalf("v = %v, want 2", got)
	}
	if got := snap["auth"][FieldReporterAddress]; got != "client:2" {
		t.Fatalf("reporterAddress = %v, want client:2 (last writer)", got)
	}
	if s.Len() != 1 {
		t.Fatalf("Len after overwrite = %d, want 1", s.Len())
	}
}

func TestMultiReporterMerge(t *testing.T) {
	s := New()

	s.Merge(map[string]Descriptor{"svc1": {"x": 1}}, "clientA:1000")
	s.Merge(map[string]Descriptor{"svc2": {"y": 2}}, "clientB:2000")

	snap := s.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d entries, want 2", len(snap))
	}
	if got := snap["svc1"][FieldReporterAddress]; got != "clientA:1000" {
		t.Fatalf("svc1 reporter = %v, want clientA:1000", got)
	}
	if got := snap["svc2"][FieldReporterAddress]; got != "clientB:2000" {
		t.Fatalf("svc2 reporter = %v, want clientB:2000", got)
	}
}

func TestMarkUnavailable(t *testing.T) {
	s := New()
	s.Merge(map[string]Descriptor{"auth": {}}, "client:1")

	if !s.MarkUnavailable("auth") {
		t.Fatalf("MarkUnavailable(auth) = false, want true")
	}
	if got := s.Snapshot()["auth"][FieldAvailable]; got != false {
		t.Fatalf("available = %v, want false", got)
	}
	// The entry is retained, never deleted.
	if s.Len() != 1 {
		t.Fatalf("Len after flip = %d, want 1", s.Len())
	}
	if s.CountAvailable() != 0 {
		t.Fatalf("CountAvailable = %d, want 0", s.CountAvailable())
	}

	// Re-reporting restores availability.
	s.Merge(map[string]Descriptor{"auth": {}}, "client:1")
	if got := s.Snapshot()["auth"][FieldAvailable]; got != true {
		t.Fatalf("available after re-report = %v, want true", got)
	}
}

func TestMarkUnavailableUnknownName(t *testing.T) {
	s := New()
	if s.MarkUnavailable("ghost") {
		t.Fatalf("MarkUnavailable(ghost) = true, want false for unknown name")
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d, want 0", s.Len())
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s := New()
	input := map[string]Descriptor{"auth": {"v": 1}}
	s.Merge(input, "client:1")

	// Mutating the caller's report after the merge must not leak in.
	input["auth"]["v"] = 99
	if got := s.Snapshot()["auth"]["v"]; got != 1 {
		t.Fatalf("store observed caller mutation: v = %v, want 1", got)
	}

	// Mutating a snapshot must not leak back either.
	snap := s.Snapshot()
	snap["auth"][FieldAvailable] = false
	if got := s.Snapshot()["auth"][FieldAvailable]; got != true {
		t.Fatalf("store observed snapshot mutation: available = %v, want true", got)
	}
}

func TestConcurrentMergeSnapshot_NoRaces(t *testing.T) {
	s := New()

	var wg sync.WaitGroup
	const G = 16
	const N = 500

	for gid := 0; gid < G; gid++ {
		wg.Add(1)
		go func(gid int) {
			defer wg.Done()
			addr := fmt.Sprintf("client:%d", gid)
			for i := 0; i < N; i++ {
				name := fmt.Sprintf("svc-%d", i%8)
				s.Merge(map[string]Descriptor{name: {"seq": i}}, addr)
				if i%3 == 0 {
					s.MarkUnavailable(name)
				}
				snap := s.Snapshot()
				if len(snap) > 8 {
					t.Errorf("snapshot grew past key space: %d", len(snap))
					return
				}
			}
		}(gid)
	}
	wg.Wait()

	// Every entry must carry both stamped fields, whatever the interleaving.
	for name, desc := range s.Snapshot() {
		if _, ok := desc[FieldReporterAddress]; !ok {
			t.Fatalf("%s missing reporterAddress", name)
		}
		if _, ok := desc[FieldAvailable].(bool); !ok {
			t.Fatalf("%s missing available", name)
		}
	}
	// Tip: run with race detector:
	//   go test -race ./pkg/registry -v
}
