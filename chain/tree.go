package chain

// ActorTree is the rooted tree grown from one starting actor. It owns its
// TreeNode instances outright: nodes are never shared with the other tree.
type ActorTree struct {
	rootID string
	root   *TreeNode
	nodes  map[string]*TreeNode
}

// NewActorTree mints a fresh tree whose root holds the starting actor.
func NewActorTree(rootID string, typ EntityType, data any) *ActorTree {
	root := newTreeNode(rootID, typ, data, nil)
	return &ActorTree{
		rootID: rootID,
		root:   root,
		nodes:  map[string]*TreeNode{rootID: root},
	}
}

func (t *ActorTree) RootID() string { return t.rootID }

func (t *ActorTree) Root() *TreeNode { return t.root }

// Size reports how many entities this tree contains, root included.
func (t *ActorTree) Size() int { return len(t.nodes) }

// AddNode grafts an entity under parentID. Re-inserting a key this tree
// already holds is a no-op returning the existing node. A missing parent is
// the expected "doesn't connect to anything in this tree yet" case and
// returns nil rather than an error.
func (t *ActorTree) AddNode(id string, typ EntityType, data any, parentID string) *TreeNode {
	if existing, ok := t.nodes[id]; ok {
		return existing
	}
	parent, ok := t.nodes[parentID]
	if !ok {
		return nil
	}
	node := newTreeNode(id, typ, data, parent)
	t.nodes[id] = node
	return node
}

func (t *ActorTree) HasNode(id string) bool {
	_, ok := t.nodes[id]
	return ok
}

func (t *ActorTree) Node(id string) *TreeNode {
	return t.nodes[id]
}

// PathTo returns the ordered key sequence from the root to id, or nil when
// the tree does not contain id.
func (t *ActorTree) PathTo(id string) []string {
	node, ok := t.nodes[id]
	if !ok {
		return nil
	}
	return node.PathToRoot()
}

// NodesAtDepth is a diagnostic scan, not used on the insertion path.
func (t *ActorTree) NodesAtDepth(depth int) []*TreeNode {
	var out []*TreeNode
	for _, node := range t.nodes {
		if node.Depth == depth {
			out = append(out, node)
		}
	}
	return out
}

// TreeStats summarizes one tree for display ("X entities discovered").
type TreeStats struct {
	Root     string             `json:"root"`
	Total    int                `json:"total"`
	ByType   map[EntityType]int `json:"by_type"`
	MaxDepth int                `json:"max_depth"`
}

func (t *ActorTree) Stats() TreeStats {
	stats := TreeStats{
		Root:   t.rootID,
		Total:  len(t.nodes),
		ByType: make(map[EntityType]int),
	}
	for _, node := range t.nodes {
		stats.ByType[node.Type]++
		if node.Depth > stats.MaxDepth {
			stats.MaxDepth = node.Depth
		}
	}
	return stats
}
