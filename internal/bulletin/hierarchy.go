package bulletin

import (
	"errors"
	"fmt"
)

// KeySeparator joins path segments in tree keys and pivot column keys.
const KeySeparator = "$$$"

// ErrMalformedHierarchy is returned when a flat list repeats an id or
// references a parent that was not assigned earlier in the list.
var ErrMalformedHierarchy = errors.New("malformed hierarchy")

// HierarchyNode is one node of the application dimension tree returned by the
// monitoring manager.
type HierarchyNode struct {
	Value    string          `json:"value"`
	Label    string          `json:"label"`
	IsLeaf   bool            `json:"isLeaf"`
	Children []HierarchyNode `json:"children,omitempty"`
}

// FlatTreeItem is a hierarchy node with a sequential id and a parent link.
type FlatTreeItem struct {
	ID       int    `json:"id"`
	Key      string `json:"key"`
	Title    string `json:"title"`
	IsLeaf   bool   `json:"isLeaf"`
	ParentID *int   `json:"parentId"`
	Disabled bool   `json:"disabled"`
}

// TreeNode is a FlatTreeItem reassembled with its children.
type TreeNode struct {
	FlatTreeItem
	Children []*TreeNode `json:"children"`
}

// FlattenHierarchy walks the real top-level dimensions in pre-order. The first
// element of data is a synthetic wrapper; only its children are visited.
func FlattenHierarchy(data []HierarchyNode) []FlatTreeItem {
	out := make([]FlatTreeItem, 0)
	if len(data) == 0 || data[0].Children == nil {
		return out
	}

	nextID := 1
	var walk func(nodes []HierarchyNode, parentKey string, parentID *int)
	walk = func(nodes []HierarchyNode, parentKey string, parentID *int) {
		for _, node := range nodes {
			key := node.Value
			if parentKey != "" {
				key = parentKey + KeySeparator + node.Value
			}
			id := nextID
			nextID++
			out = append(out, FlatTreeItem{
				ID:       id,
				Key:      key,
				Title:    node.Label,
				IsLeaf:   node.IsLeaf,
				ParentID: parentID,
				Disabled: parentID == nil,
			})
			if node.Children != nil {
				walk(node.Children, key, &id)
			}
		}
	}
	walk(data[0].Children, "", nil)
	return out
}

// BuildTree reassembles a flat list into nested nodes. Children keep the order
// of the flat list. Ids must be unique and every parent must precede its
// children, which rules out self-parents and cycles.
func BuildTree(items []FlatTreeItem) ([]*TreeNode, error) {
	arena := make([]*TreeNode, len(items))
	index := make(map[int]int, len(items))
	for i, item := range items {
		if _, dup := index[item.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate item id %d", ErrMalformedHierarchy, item.ID)
		}
		arena[i] = &TreeNode{FlatTreeItem: item, Children: []*TreeNode{}}
		index[item.ID] = i
	}

	roots := make([]*TreeNode, 0)
	for i, node := range arena {
		if node.ParentID == nil {
			roots = append(roots, node)
			continue
		}
		pos, ok := index[*node.ParentID]
		if !ok {
			return nil, fmt.Errorf("%w: item %d references unknown parent %d", ErrMalformedHierarchy, node.ID, *node.ParentID)
		}
		if pos >= i {
			return nil, fmt.Errorf("%w: item %d references parent %d that does not precede it", ErrMalformedHierarchy, node.ID, *node.ParentID)
		}
		parent := arena[pos]
		parent.Children = append(parent.Children, node)
	}
	return roots, nil
}

// BuildHierarchyTree flattens data and rebuilds the nested tree in one call.
func BuildHierarchyTree(data []HierarchyNode) ([]FlatTreeItem, []*TreeNode, error) {
	flat := FlattenHierarchy(data)
	tree, err := BuildTree(flat)
	if err != nil {
		return nil, nil, err
	}
	return flat, tree, nil
}

// FindItem returns the flat item with the given id.
func FindItem(items []FlatTreeItem, id int) (FlatTreeItem, bool) {
	for _, it := range items {
		if it.ID == id {
			return it, true
		}
	}
	return FlatTreeItem{}, false
}
