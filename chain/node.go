package chain

// TreeNode is one placement of an entity at a specific position in one
// actor tree. The same entity gets a distinct TreeNode per tree, since its
// parent and depth differ between trees.
//
// Depth is fixed at construction. Nodes are never re-parented or removed;
// the board only grows for the lifetime of a game.
type TreeNode struct {
	ID       string
	Type     EntityType
	Data     any
	Parent   *TreeNode
	Children []*TreeNode
	Depth    int
}

func newTreeNode(id string, typ EntityType, data any, parent *TreeNode) *TreeNode {
	n := &TreeNode{
		ID:     id,
		Type:   typ,
		Data:   data,
		Parent: parent,
	}
	if parent != nil {
		n.Depth = parent.Depth + 1
		parent.Children = append(parent.Children, n)
	}
	return n
}

// PathToRoot walks parent links upward and returns the ordered key sequence
// [rootID, ..., n.ID]. Its length is always Depth+1.
func (n *TreeNode) PathToRoot() []string {
	path := make([]string, n.Depth+1)
	for cur := n; cur != nil; cur = cur.Parent {
		path[cur.Depth] = cur.ID
	}
	return path
}
