// Package scheduler implements the Piece Scheduler: a pure function that,
// given per-peer piece availability for a file and the local peer's own
// inventory, produces a disjoint, load-balanced per-peer download queue.
// It is deliberately synchronous and channel-free: determinism matters
// more here than concurrency, so the round-robin/least-loaded walk is a
// plain loop over pieces rather than a goroutine-driven state machine.
package scheduler

import (
	"github.com/lamcao1206/simple-torrent-application/internal/piece"
)

// Peer identifies a scheduling participant by its dial address
// ("ip:upload_port").
type Peer string

// Schedule runs the scheduling algorithm for one file. avail maps each
// peer (in iteration/insertion order given by peerOrder) to the piece IDs
// it holds; held is the set of piece IDs the local node already has. The
// returned queue maps each peer to the ordered list of piece IDs assigned
// to it; peers that end up with an empty queue are omitted.
func Schedule(peerOrder []Peer, avail map[Peer][]uint32, held map[uint32]struct{}) map[Peer][]uint32 {
	// A' := A with every piece in H removed from every peer's list.
	remaining := make(map[Peer][]uint32, len(avail))
	for _, p := range peerOrder {
		ids := avail[p]
		filtered := make([]uint32, 0, len(ids))
		for _, id := range ids {
			if _, have := held[id]; !have {
				filtered = append(filtered, id)
			}
		}
		remaining[p] = filtered
	}

	queue := make(map[Peer][]uint32, len(peerOrder))

	for {
		// active := peers with any remaining piece in A'.
		var active []Peer
		for _, p := range peerOrder {
			if len(remaining[p]) > 0 {
				active = append(active, p)
			}
		}
		if len(active) == 0 {
			break
		}

		// round_peers := active, a snapshot for this round.
		roundPeers := append([]Peer(nil), active...)
		for len(roundPeers) > 0 {
			// p := arg-min over round_peers of |Q[p]|, ties broken by
			// round_peers' iteration order (insertion order of A).
			best := roundPeers[0]
			bestIdx := 0
			for i, p := range roundPeers {
				if len(queue[p]) < len(queue[best]) {
					best = p
					bestIdx = i
				}
			}
			if len(remaining[best]) == 0 {
				roundPeers = removeAt(roundPeers, bestIdx)
				continue
			}
			pieceID := remaining[best][0]
			queue[best] = append(queue[best], pieceID)
			// remove piece from every other active peer's remaining list,
			// enforcing single-source assignment.
			for _, q := range active {
				remaining[q] = removeValue(remaining[q], pieceID)
			}
			roundPeers = removeAt(roundPeers, bestIdx)
		}
	}

	return queue
}

func removeAt(s []Peer, i int) []Peer {
	return append(s[:i], s[i+1:]...)
}

func removeValue(s []uint32, v uint32) []uint32 {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

// Filenames turns a per-peer piece-id queue into the per-peer piece
// filename queue the Download Manager consumes, using the piece naming
// rule. It handles one file; MergeQueues concatenates the queues of
// several files per-peer.
func Filenames(originalFilename string, queue map[Peer][]uint32) map[Peer][]string {
	out := make(map[Peer][]string, len(queue))
	for p, ids := range queue {
		names := make([]string, len(ids))
		for i, id := range ids {
			names[i] = piece.Filename(originalFilename, id)
		}
		out[p] = names
	}
	return out
}

// MergeQueues appends src's per-peer piece filename lists onto dst,
// concatenating per-file queues across several requested files into one
// combined per-peer request queue.
func MergeQueues(dst map[Peer][]string, src map[Peer][]string) map[Peer][]string {
	if dst == nil {
		dst = make(map[Peer][]string)
	}
	for p, names := range src {
		dst[p] = append(dst[p], names...)
	}
	return dst
}
