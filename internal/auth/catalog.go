package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PermissionDefinition is a node in the code-declared permission tree. Only
// leaves are grantable; inner nodes exist to organise the tree for display.
type PermissionDefinition struct {
	Name        string
	DisplayName string
	Include     bool

	parent   *PermissionDefinition
	children []*PermissionDefinition
}

// Define declares a node. Nodes are included unless Exclude is called.
func Define(name, displayName string, children ...*PermissionDefinition) *PermissionDefinition {
	return &PermissionDefinition{
		Name:        name,
		DisplayName: displayName,
		Include:     true,
		children:    children,
	}
}

// Exclude marks the node, and with it the whole subtree, as hidden.
func (d *PermissionDefinition) Exclude() *PermissionDefinition {
	d.Include = false
	return d
}

// Parent returns the enclosing node, or nil for a root.
func (d *PermissionDefinition) Parent() *PermissionDefinition { return d.parent }

// Children returns a copy of the ordered child list.
func (d *PermissionDefinition) Children() []*PermissionDefinition {
	out := make([]*PermissionDefinition, len(d.children))
	copy(out, d.children)
	return out
}

// IsLeaf reports whether the node has no children.
func (d *PermissionDefinition) IsLeaf() bool { return len(d.children) == 0 }

func (d *PermissionDefinition) MarshalJSON() ([]byte, error) {
	type node struct {
		Name        string                  `json:"name"`
		DisplayName string                  `json:"display_name"`
		Children    []*PermissionDefinition `json:"children,omitempty"`
	}
	return json.Marshal(node{Name: d.Name, DisplayName: d.DisplayName, Children: d.children})
}

// FlatPermission is a leaf of the pruned tree.
type FlatPermission struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// Catalog is an immutable permission tree built once per process.
type Catalog struct {
	roots  []*PermissionDefinition
	pruned []*PermissionDefinition
	leaves []FlatPermission
	grant  map[string]struct{}
}

// NewCatalog links parents and validates that every name is present and unique.
func NewCatalog(roots ...*PermissionDefinition) (*Catalog, error) {
	seen := make(map[string]struct{})
	var link func(parent, n *PermissionDefinition) error
	link = func(parent, n *PermissionDefinition) error {
		if n == nil {
			return errors.New("auth: nil permission definition")
		}
		n.Name = strings.TrimSpace(n.Name)
		if n.Name == "" {
			return errors.New("auth: permission definition without name")
		}
		if _, dup := seen[n.Name]; dup {
			return fmt.Errorf("auth: duplicate permission definition %q", n.Name)
		}
		seen[n.Name] = struct{}{}
		n.parent = parent
		for _, c := range n.children {
			if err := link(n, c); err != nil {
				return err
			}
		}
		return nil
	}
	for _, r := range roots {
		if err := link(nil, r); err != nil {
			return nil, err
		}
	}

	c := &Catalog{roots: roots, grant: make(map[string]struct{})}
	for _, r := range roots {
		if p := prune(nil, r); p != nil {
			c.pruned = append(c.pruned, p)
		}
	}
	c.leaves = flatten(c.pruned, nil)
	for _, l := range c.leaves {
		c.grant[l.Name] = struct{}{}
	}
	return c, nil
}

// MustCatalog is NewCatalog that panics on invalid input.
func MustCatalog(roots ...*PermissionDefinition) *Catalog {
	c, err := NewCatalog(roots...)
	if err != nil {
		panic(err)
	}
	return c
}

// GetPermissions returns the pruned tree. Excluded subtrees are dropped and an
// inner node survives only when at least one descendant leaf does.
func (c *Catalog) GetPermissions() []*PermissionDefinition {
	out := make([]*PermissionDefinition, 0, len(c.pruned))
	for _, r := range c.pruned {
		out = append(out, clone(nil, r))
	}
	return out
}

// GetFlattenedPermissions returns the leaves of the pruned tree in pre-order.
func (c *Catalog) GetFlattenedPermissions() []FlatPermission {
	out := make([]FlatPermission, len(c.leaves))
	copy(out, c.leaves)
	return out
}

// IsGrantable reports whether name is a leaf that survived pruning.
func (c *Catalog) IsGrantable(name string) bool {
	_, ok := c.grant[name]
	return ok
}

// LeavesUnder returns the grantable leaves below the node called name.
func (c *Catalog) LeavesUnder(name string) []FlatPermission {
	var find func(nodes []*PermissionDefinition) *PermissionDefinition
	find = func(nodes []*PermissionDefinition) *PermissionDefinition {
		for _, n := range nodes {
			if n.Name == name {
				return n
			}
			if hit := find(n.children); hit != nil {
				return hit
			}
		}
		return nil
	}
	n := find(c.pruned)
	if n == nil {
		return nil
	}
	return flatten([]*PermissionDefinition{n}, nil)
}

func prune(parent, n *PermissionDefinition) *PermissionDefinition {
	if !n.Include {
		return nil
	}
	cp := &PermissionDefinition{Name: n.Name, DisplayName: n.DisplayName, Include: true, parent: parent}
	if n.IsLeaf() {
		return cp
	}
	for _, child := range n.children {
		if pc := prune(cp, child); pc != nil {
			cp.children = append(cp.children, pc)
		}
	}
	if len(cp.children) == 0 {
		return nil
	}
	return cp
}

func flatten(nodes []*PermissionDefinition, acc []FlatPermission) []FlatPermission {
	for _, n := range nodes {
		if n.IsLeaf() {
			acc = append(acc, FlatPermission{Name: n.Name, DisplayName: n.DisplayName})
			continue
		}
		acc = flatten(n.children, acc)
	}
	return acc
}

func clone(parent, n *PermissionDefinition) *PermissionDefinition {
	cp := &PermissionDefinition{Name: n.Name, DisplayName: n.DisplayName, Include: n.Include, parent: parent}
	for _, child := range n.children {
		cp.children = append(cp.children, clone(cp, child))
	}
	return cp
}
