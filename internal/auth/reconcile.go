package auth

import (
	"context"
	"fmt"

	"github.com/ma496/EasyForNet-sub002/internal/ids"
)

// PermissionDiff is the result of comparing catalog leaves with stored rows.
type PermissionDiff struct {
	Missing []FlatPermission
	Drifted []FlatPermission
}

// Empty reports whether the store already matches the catalog.
func (d PermissionDiff) Empty() bool {
	return len(d.Missing) == 0 && len(d.Drifted) == 0
}

// DiffPermissions computes which leaves have no stored row and which stored
// rows carry an outdated display name. Stored rows unknown to the catalog are
// left alone.
func DiffPermissions(leaves []FlatPermission, stored []Permission) PermissionDiff {
	byName := make(map[string]Permission, len(stored))
	for _, p := range stored {
		byName[p.Name] = p
	}
	var diff PermissionDiff
	for _, l := range leaves {
		p, ok := byName[l.Name]
		switch {
		case !ok:
			diff.Missing = append(diff.Missing, l)
		case p.DisplayName != l.DisplayName:
			diff.Drifted = append(diff.Drifted, l)
		}
	}
	return diff
}

// ReconcilePermissions brings the permission store in line with the catalog.
// It runs once at boot, before the service accepts traffic.
func ReconcilePermissions(ctx context.Context, catalog *Catalog, store PermissionStore) (PermissionDiff, error) {
	stored, err := store.All(ctx)
	if err != nil {
		return PermissionDiff{}, fmt.Errorf("load permissions: %w", err)
	}
	diff := DiffPermissions(catalog.GetFlattenedPermissions(), stored)
	if len(diff.Missing) > 0 {
		rows := make([]Permission, 0, len(diff.Missing))
		for _, m := range diff.Missing {
			rows = append(rows, Permission{
				ID:          ids.New(),
				Name:        m.Name,
				DisplayName: m.DisplayName,
				Audit:       Audit{CreatedBy: SystemActor, UpdatedBy: SystemActor},
			})
		}
		if err := store.Insert(ctx, rows); err != nil {
			return PermissionDiff{}, fmt.Errorf("insert permissions: %w", err)
		}
	}
	for _, d := range diff.Drifted {
		if err := store.UpdateDisplayName(ctx, d.Name, d.DisplayName, SystemActor); err != nil {
			return PermissionDiff{}, fmt.Errorf("update permission %s: %w", d.Name, err)
		}
	}
	return diff, nil
}
