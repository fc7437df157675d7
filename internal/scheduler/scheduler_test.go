package scheduler

import "testing"

func pieceSet(ids ...uint32) map[uint32]struct{} {
	m := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

// TestScheduleDisjointAndCovers checks P2 (disjointness) and P3 (coverage):
// every piece the peers collectively hold (minus what's already held) ends
// up assigned to exactly one peer.
func TestScheduleDisjointAndCovers(t *testing.T) {
	order := []Peer{"a", "b", "c"}
	avail := map[Peer][]uint32{
		"a": {0, 1, 2},
		"b": {1, 2, 3},
		"c": {2, 3, 4},
	}
	q := Schedule(order, avail, pieceSet())

	seen := make(map[uint32]Peer)
	for p, ids := range q {
		for _, id := range ids {
			if prev, ok := seen[id]; ok {
				t.Fatalf("piece %d assigned to both %s and %s", id, prev, p)
			}
			seen[id] = p
		}
	}
	for id := uint32(0); id <= 4; id++ {
		if _, ok := seen[id]; !ok {
			t.Fatalf("piece %d not assigned to any peer", id)
		}
	}
}

// TestScheduleOmitsAlreadyHeldPieces exercises S4: pieces the local peer
// already holds must never be scheduled.
func TestScheduleOmitsAlreadyHeldPieces(t *testing.T) {
	order := []Peer{"a"}
	avail := map[Peer][]uint32{"a": {0, 1, 2}}
	q := Schedule(order, avail, pieceSet(1))

	got := q["a"]
	for _, id := range got {
		if id == 1 {
			t.Fatalf("piece 1 should have been excluded as already held, got %v", got)
		}
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 remaining pieces, got %v", got)
	}
}

// TestScheduleBalancesLoad checks P4: with two peers holding the same
// pieces, no peer should be assigned more than one piece beyond the other.
func TestScheduleBalancesLoad(t *testing.T) {
	order := []Peer{"a", "b"}
	avail := map[Peer][]uint32{
		"a": {0, 1, 2, 3},
		"b": {0, 1, 2, 3},
	}
	q := Schedule(order, avail, pieceSet())

	la, lb := len(q["a"]), len(q["b"])
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	if diff > 1 {
		t.Fatalf("expected balanced split, got a=%d b=%d", la, lb)
	}
	if la+lb != 4 {
		t.Fatalf("expected all 4 pieces scheduled, got a=%d b=%d", la, lb)
	}
}

// TestScheduleSingleSourceOnly: a piece available from only one peer
// must be assigned to that peer even if it is already the most loaded.
func TestScheduleSingleSourceOnly(t *testing.T) {
	order := []Peer{"a", "b"}
	avail := map[Peer][]uint32{
		"a": {0, 1, 2},
		"b": {2},
	}
	q := Schedule(order, avail, pieceSet())

	found := false
	for _, id := range q["b"] {
		if id == 2 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected piece 2 assigned to sole holder b, got %v", q)
	}
}

// TestScheduleNoAvailabilityYieldsEmptyQueue: if no peer has any
// unheld piece, the resulting queue has no entries at all.
func TestScheduleNoAvailabilityYieldsEmptyQueue(t *testing.T) {
	order := []Peer{"a", "b"}
	avail := map[Peer][]uint32{"a": {}, "b": {}}
	q := Schedule(order, avail, pieceSet())
	if len(q) != 0 {
		t.Fatalf("expected empty queue, got %v", q)
	}
}

// TestScheduleIsDeterministic: identical inputs always produce an
// identical queue (the scheduler's stability property).
func TestScheduleIsDeterministic(t *testing.T) {
	order := []Peer{"a", "b", "c"}
	avail := map[Peer][]uint32{
		"a": {0, 1, 2, 5},
		"b": {1, 2, 3},
		"c": {2, 3, 4},
	}
	first := Schedule(order, avail, pieceSet())
	second := Schedule(order, avail, pieceSet())

	for _, p := range order {
		if len(first[p]) != len(second[p]) {
			t.Fatalf("non-deterministic queue length for %s: %v vs %v", p, first[p], second[p])
		}
		for i := range first[p] {
			if first[p][i] != second[p][i] {
				t.Fatalf("non-deterministic queue order for %s: %v vs %v", p, first[p], second[p])
			}
		}
	}
}

func TestFilenamesUsesPieceNamingRule(t *testing.T) {
	q := map[Peer][]uint32{"a": {0, 2}}
	out := Filenames("movie.mp4", q)
	want := []string{"movie_0.mp4", "movie_2.mp4"}
	got := out["a"]
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestMergeQueuesConcatenatesPerPeer(t *testing.T) {
	dst := map[Peer][]string{"a": {"f_0.bin"}}
	src := map[Peer][]string{"a": {"f_1.bin"}, "b": {"g_0.bin"}}
	out := MergeQueues(dst, src)

	if len(out["a"]) != 2 || out["a"][0] != "f_0.bin" || out["a"][1] != "f_1.bin" {
		t.Fatalf("unexpected merged queue for a: %v", out["a"])
	}
	if len(out["b"]) != 1 || out["b"][0] != "g_0.bin" {
		t.Fatalf("unexpected merged queue for b: %v", out["b"])
	}
}
