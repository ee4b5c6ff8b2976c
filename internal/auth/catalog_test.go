package auth

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogPrunesExcludedAndEmptyNodes(t *testing.T) {
	c, err := NewCatalog(
		Define("Reports", "Reports",
			Define("Reports.View", "View"),
			Define("Reports.Export", "Export").Exclude(),
		),
		Define("Hidden", "Hidden",
			Define("Hidden.Only", "Only").Exclude(),
		),
		Define("Billing", "Billing").Exclude(),
		Define("Standalone", "Standalone leaf"),
	)
	require.NoError(t, err)

	tree := c.GetPermissions()
	require.Len(t, tree, 2)
	assert.Equal(t, "Reports", tree[0].Name)
	require.Len(t, tree[0].Children(), 1)
	assert.Equal(t, "Reports.View", tree[0].Children()[0].Name)
	assert.Same(t, tree[0], tree[0].Children()[0].Parent())
	assert.Equal(t, "Standalone", tree[1].Name)

	assert.Equal(t, []FlatPermission{
		{Name: "Reports.View", DisplayName: "View"},
		{Name: "Standalone", DisplayName: "Standalone leaf"},
	}, c.GetFlattenedPermissions())

	assert.True(t, c.IsGrantable("Reports.View"))
	assert.False(t, c.IsGrantable("Reports"))
	assert.False(t, c.IsGrantable("Reports.Export"))
	assert.False(t, c.IsGrantable("Hidden.Only"))
}

func TestCatalogIsStable(t *testing.T) {
	c := DefaultCatalog()
	first := c.GetFlattenedPermissions()
	first[0].Name = "mutated"
	assert.Equal(t, c.GetFlattenedPermissions(), c.GetFlattenedPermissions())
	assert.NotEqual(t, "mutated", c.GetFlattenedPermissions()[0].Name)
}

func TestCatalogRejectsDuplicatesAndBlankNames(t *testing.T) {
	_, err := NewCatalog(
		Define("A", "A", Define("A.X", "X")),
		Define("B", "B", Define("A.X", "X again")),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"A.X"`)

	_, err = NewCatalog(Define("  ", "blank"))
	require.Error(t, err)
}

func TestDefaultCatalogShape(t *testing.T) {
	c := DefaultCatalog()
	leaves := c.GetFlattenedPermissions()
	require.Len(t, leaves, 13)
	assert.Equal(t, PermPermissionView, leaves[0].Name)
	assert.Equal(t, PermProfileUpdate, leaves[len(leaves)-1].Name)

	profile := c.LeavesUnder(groupProfile)
	assert.Equal(t, []FlatPermission{
		{Name: PermProfileView, DisplayName: "View own profile"},
		{Name: PermProfileUpdate, DisplayName: "Update own profile"},
	}, profile)
	assert.Nil(t, c.LeavesUnder("Nope"))
}

func TestPermissionDefinitionJSON(t *testing.T) {
	c := MustCatalog(Define("Root", "Root", Define("Root.Leaf", "Leaf")))
	raw, err := json.Marshal(c.GetPermissions())
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"Root","display_name":"Root","children":[{"name":"Root.Leaf","display_name":"Leaf"}]}]`, string(raw))
}

func TestDiffPermissions(t *testing.T) {
	leaves := []FlatPermission{
		{Name: "A.View", DisplayName: "View A"},
		{Name: "A.Edit", DisplayName: "Edit A"},
		{Name: "B.View", DisplayName: "View B"},
	}
	stored := []Permission{
		{Name: "A.View", DisplayName: "View A"},
		{Name: "A.Edit", DisplayName: "Old label"},
		{Name: "Gone.Perm", DisplayName: "Removed from code"},
	}
	diff := DiffPermissions(leaves, stored)
	assert.Equal(t, []FlatPermission{{Name: "B.View", DisplayName: "View B"}}, diff.Missing)
	assert.Equal(t, []FlatPermission{{Name: "A.Edit", DisplayName: "Edit A"}}, diff.Drifted)
	assert.False(t, diff.Empty())

	assert.True(t, DiffPermissions(leaves[:1], stored[:1]).Empty())
}
