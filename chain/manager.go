package chain

import (
	"errors"
	"fmt"
	"sort"
)

// Actor identifies one of the two starting actors.
type Actor struct {
	Key  string `json:"key"`
	Data any    `json:"data,omitempty"`
}

// Graft records one successful insertion of an entity into one tree.
type Graft struct {
	TreeActorID string `json:"tree_actor_id"`
	Depth       int    `json:"depth"`
	ParentID    string `json:"parent_id"`
}

// Connection is a complete chain between the two starting actors through a
// shared bridge entity. FullPath runs actor1 → ... → bridge → ... → actor2,
// with the bridge counted once. PathLength is the game score: the number of
// extra steps beyond a direct shared credit, so two actors sharing a single
// movie score 0.
type Connection struct {
	PathLength     int      `json:"path_length"`
	BridgeNode     string   `json:"bridge_node"`
	FullPath       []string `json:"full_path"`
	PathFromActor1 []string `json:"path_from_actor1"`
	PathFromActor2 []string `json:"path_from_actor2"`
}

// AddResult reports what one AddEntity call changed.
type AddResult struct {
	TreesAffected []string    `json:"trees_affected"`
	Grafts        []Graft     `json:"grafts,omitempty"`
	Shortest      *Connection `json:"shortest,omitempty"`
	BridgeNode    string      `json:"bridge_node,omitempty"`
}

// Manager owns the two actor trees for one game session plus a global index
// recording, for every entity key, which trees currently contain it. The
// index and the trees' node maps are kept mutually consistent on every
// insertion.
//
// A Manager is not safe for concurrent use; callers must serialize all
// mutations, and insertion order must respect discovery order (an edge may
// only reference entities already placed).
type Manager struct {
	trees map[string]*ActorTree
	index map[string]map[string]struct{}
	roots []string
}

func NewManager() *Manager {
	m := &Manager{}
	m.Reset()
	return m
}

// Reset discards all trees and index entries, returning the manager to its
// pre-game state.
func (m *Manager) Reset() {
	m.trees = make(map[string]*ActorTree)
	m.index = make(map[string]map[string]struct{})
	m.roots = nil
}

// InitializeTrees starts a new game: one fresh tree per starting actor, each
// root registered in the global index. Duplicate or empty actor keys are
// caller bugs and fail fast here rather than producing a bogus path later.
func (m *Manager) InitializeTrees(actor1, actor2 Actor) error {
	if actor1.Key == "" || actor2.Key == "" {
		return errors.New("starting actors must have non-empty keys")
	}
	if actor1.Key == actor2.Key {
		return fmt.Errorf("starting actors must be distinct, got %q twice", actor1.Key)
	}
	m.Reset()
	for _, a := range []Actor{actor1, actor2} {
		m.trees[a.Key] = NewActorTree(a.Key, Person, a.Data)
		m.index[a.Key] = map[string]struct{}{a.Key: {}}
		m.roots = append(m.roots, a.Key)
	}
	return nil
}

// Initialized reports whether a game is in progress.
func (m *Manager) Initialized() bool { return len(m.roots) == 2 }

// Roots returns the starting-actor keys in the order they were supplied.
func (m *Manager) Roots() []string {
	out := make([]string, len(m.roots))
	copy(out, m.roots)
	return out
}

// Tree returns the tree rooted at the given starting actor, or nil.
func (m *Manager) Tree(rootKey string) *ActorTree { return m.trees[rootKey] }

// AddEntity grafts a newly placed entity into every tree that already
// contains one of its neighbors, then checks whether the entity now belongs
// to more than one tree. If it does, the entity is a bridge and the result
// carries the shortest connection between the starting actors.
//
// Edges whose neighbor is not yet reachable from any root contribute
// nothing; that is a normal mid-game condition, not an error.
func (m *Manager) AddEntity(id string, typ EntityType, data any, edges []Edge) (AddResult, error) {
	var res AddResult
	if !m.Initialized() {
		return res, errors.New("trees not initialized, call InitializeTrees first")
	}

	affected := make(map[string]struct{})
	for _, e := range edges {
		neighbor, ok := e.Other(id)
		if !ok {
			continue
		}
		for rootKey := range m.index[neighbor] {
			affected[rootKey] = struct{}{}
			tree := m.trees[rootKey]
			if tree.HasNode(id) {
				continue
			}
			if node := tree.AddNode(id, typ, data, neighbor); node != nil {
				res.Grafts = append(res.Grafts, Graft{
					TreeActorID: rootKey,
					Depth:       node.Depth,
					ParentID:    neighbor,
				})
			}
		}
	}

	if len(affected) > 0 {
		members := m.index[id]
		if members == nil {
			members = make(map[string]struct{}, len(affected))
			m.index[id] = members
		}
		for rootKey := range affected {
			members[rootKey] = struct{}{}
		}
	}

	// Affected means "now contains the entity", including trees it was
	// grafted into by an earlier call.
	res.TreesAffected = sortedKeys(m.index[id])

	if members := m.index[id]; len(members) >= 2 {
		res.BridgeNode = id
		res.Shortest = m.shortestAcross(sortedKeys(members))
	}
	return res, nil
}

// ActorsConnected answers "are these two trees connected right now, and via
// what shortest path?" by examining every entity the trees share. Returns
// nil when the trees are disjoint or either key is unknown.
func (m *Manager) ActorsConnected(rootKey1, rootKey2 string) *Connection {
	return m.connectionBetween(rootKey1, rootKey2)
}

// shortestAcross runs the pairwise search over every unordered pair of
// trees in the membership set. The game only ever creates two trees, but the
// loop is written over N so correctness never hinges on that.
func (m *Manager) shortestAcross(rootKeys []string) *Connection {
	var best *Connection
	for i := 0; i < len(rootKeys); i++ {
		for j := i + 1; j < len(rootKeys); j++ {
			conn := m.connectionBetween(rootKeys[i], rootKeys[j])
			if conn == nil {
				continue
			}
			if best == nil || conn.PathLength < best.PathLength {
				best = conn
			}
		}
	}
	return best
}

// connectionBetween walks every entity present in both trees and keeps the
// bridge yielding the shortest joined path. Checking all shared entities,
// not just the latest insert, guarantees the reported path is the global
// shortest at this moment.
func (m *Manager) connectionBetween(rootKey1, rootKey2 string) *Connection {
	t1, t2 := m.trees[rootKey1], m.trees[rootKey2]
	if t1 == nil || t2 == nil {
		return nil
	}

	var best *Connection
	bestTotal := -1
	for id, node := range t1.nodes {
		other, ok := t2.nodes[id]
		if !ok {
			continue
		}
		total := node.Depth + other.Depth + 1
		if bestTotal != -1 && total >= bestTotal {
			continue
		}
		bestTotal = total

		path1 := node.PathToRoot()
		path2 := other.PathToRoot()
		full := make([]string, 0, total)
		full = append(full, path1...)
		for i := len(path2) - 2; i >= 0; i-- {
			full = append(full, path2[i])
		}
		best = &Connection{
			PathLength:     total - 3,
			BridgeNode:     id,
			FullPath:       full,
			PathFromActor1: path1,
			PathFromActor2: path2,
		}
	}
	return best
}

// AllTreeStats returns per-tree summaries in starting-actor order.
func (m *Manager) AllTreeStats() []TreeStats {
	out := make([]TreeStats, 0, len(m.roots))
	for _, rootKey := range m.roots {
		out = append(out, m.trees[rootKey].Stats())
	}
	return out
}

// TotalUniqueNodes counts distinct entities reachable from at least one
// root, the two roots included.
func (m *Manager) TotalUniqueNodes() int { return len(m.index) }

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
