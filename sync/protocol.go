package sync

import (
	"github.com/teranos/statesync/state"
)

// Wire messages exchanged between two peers.
//
// The protocol is symmetric: each side runs a Channel, so both sides send
// and receive every message type. A peer's writable store is mirrored into
// the other side's read-only store.
//
// Protocol flow:
//
//	1. Both send MsgHello carrying their read-only fingerprint
//	2. A side whose writable fingerprint differs from the hello answers
//	   with MsgFull
//	3. Every local mutation travels as MsgPartial
//	4. The receiver applies it and answers with MsgFingerprint, right away
//	   and again after the resync threshold
//	5. A mismatch or a missing fingerprint leads to MsgFull

// MsgType identifies the wire message kind.
type MsgType string

const (
	// MsgHello opens a session: "here's my name and what I have of you."
	MsgHello MsgType = "sync_hello"

	// MsgPartial carries the diff of one writable mutation.
	MsgPartial MsgType = "sync_partial"

	// MsgFull carries the complete writable state.
	MsgFull MsgType = "sync_full"

	// MsgFingerprint announces the sender's read-only fingerprint.
	MsgFingerprint MsgType = "sync_fingerprint"
)

// Msg is the envelope for all wire messages.
type Msg struct {
	Type MsgType `json:"type"`

	// Hello: self-identified node name (from [sync] name)
	Name string `json:"name,omitempty"`

	// Partial, Full: state to apply. Deletions cannot be expressed in JSON
	// values, so a partial lists them separately as key paths in Removed.
	State   map[string]any `json:"state,omitempty"`
	Removed [][]string     `json:"removed,omitempty"`

	// Partial: false when the writable store was replaced
	Merge bool `json:"merge,omitempty"`

	// Hello, Fingerprint: read-only fingerprint
	Hash string `json:"hash,omitempty"`

	// Full: why the full sync was triggered
	Reason string `json:"reason,omitempty"`
}

// encodeDiff splits a diff into its JSON-representable part and the paths
// it deletes. A mapping that only carried deletions is left out of the
// state so the receiver does not create it.
func encodeDiff(diff state.Map) (state.Map, [][]string) {
	var removed [][]string
	var walk func(prefix []string, m state.Map) state.Map
	walk = func(prefix []string, m state.Map) state.Map {
		out := make(state.Map, len(m))
		for k, v := range m {
			path := append(prefix[:len(prefix):len(prefix)], k)
			switch x := v.(type) {
			case state.Map:
				sub := walk(path, x)
				if len(sub) == 0 && len(x) > 0 {
					continue
				}
				out[k] = sub
			default:
				if state.IsAbsent(v) {
					removed = append(removed, path)
					continue
				}
				out[k] = v
			}
		}
		return out
	}
	return walk(nil, diff), removed
}

// decodeUpdate rebuilds a merge update from a wire state and its removed
// paths. Removed paths land as deletion markers, creating the mappings that
// lead to them; a path through a non-mapping value is ignored.
func decodeUpdate(wire map[string]any, removed [][]string) state.Map {
	update := state.Map{}
	for k, v := range wire {
		update[k] = v
	}

	for _, path := range removed {
		if len(path) == 0 {
			continue
		}
		node := update
		valid := true
		for _, key := range path[:len(path)-1] {
			child, exists := node[key]
			if !exists {
				next := state.Map{}
				node[key] = next
				node = next
				continue
			}
			m, ok := child.(map[string]any)
			if !ok {
				valid = false
				break
			}
			node = m
		}
		if valid {
			node[path[len(path)-1]] = state.Absent
		}
	}
	return update
}
