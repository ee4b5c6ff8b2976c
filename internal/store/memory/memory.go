// Package memory is an in-process auth.Store. It enforces the same unique
// and atomic semantics as the Postgres store and is used by tests and local
// runs.
package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ma496/EasyForNet-sub002/internal/auth"
)

// Store keeps every table in maps behind one mutex.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	permissions map[string]auth.Permission
	roles       map[string]auth.Role
	users       map[string]auth.User
	rolePerms   map[string]map[string]auth.RolePermission
	userRoles   map[string]map[string]auth.UserRole
	sessions    map[string]auth.AuthToken
	tokens      map[string]auth.Token
}

// Option configures Store.
type Option func(*Store)

// WithClock overrides the time source used for audit stamps.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		now:         time.Now,
		permissions: make(map[string]auth.Permission),
		roles:       make(map[string]auth.Role),
		users:       make(map[string]auth.User),
		rolePerms:   make(map[string]map[string]auth.RolePermission),
		userRoles:   make(map[string]map[string]auth.UserRole),
		sessions:    make(map[string]auth.AuthToken),
		tokens:      make(map[string]auth.Token),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ auth.Store = (*Store)(nil)

func (s *Store) Permissions() auth.PermissionStore { return permissionStore{s} }
func (s *Store) Roles() auth.RoleStore             { return roleStore{s} }
func (s *Store) Users() auth.UserStore             { return userStore{s} }
func (s *Store) AuthTokens() auth.AuthTokenStore   { return sessionStore{s} }
func (s *Store) Tokens() auth.TokenStore           { return tokenStore{s} }

func (s *Store) stamp() time.Time { return s.now().UTC() }

func alive(ctx context.Context) error { return ctx.Err() }

func contains(q string, fields ...string) bool {
	if q == "" {
		return true
	}
	q = strings.ToLower(q)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, q auth.ListQuery) auth.Page[T] {
	total := len(items)
	start := min(max(q.Offset(), 0), total)
	end := start + min(max(q.PageSize, 0), total-start)
	return auth.NewPage(slices.Clone(items[start:end]), total, q)
}

func sortBy[T any](items []T, desc bool, key func(a, b T) int, id func(T) string) {
	slices.SortStableFunc(items, func(a, b T) int {
		c := key(a, b)
		if c == 0 {
			c = cmp.Compare(id(a), id(b))
		}
		if desc {
			return -c
		}
		return c
	})
}

// ---- permissions ----

type permissionStore struct{ *Store }

func (p permissionStore) All(ctx context.Context) ([]auth.Permission, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]auth.Permission, 0, len(p.permissions))
	for _, perm := range p.permissions {
		out = append(out, perm)
	}
	slices.SortFunc(out, func(a, b auth.Permission) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

func (p permissionStore) List(ctx context.Context, q auth.ListQuery) (auth.Page[auth.Permission], error) {
	if err := alive(ctx); err != nil {
		return auth.Page[auth.Permission]{}, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	var items []auth.Permission
	for _, perm := range p.permissions {
		if contains(q.Search, perm.Name, perm.DisplayName) {
			items = append(items, perm)
		}
	}
	key := func(a, b auth.Permission) int { return cmp.Compare(a.Name, b.Name) }
	if q.SortBy == "display_name" {
		key = func(a, b auth.Permission) int { return cmp.Compare(a.DisplayName, b.DisplayName) }
	}
	sortBy(items, q.SortDesc, key, func(v auth.Permission) string { return v.ID })
	return paginate(items, q), nil
}

func (p permissionStore) Insert(ctx context.Context, perms []auth.Permission) error {
	if err := alive(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.stamp()
	for _, perm := range perms {
		if _, ok := p.permissionByName(perm.Name); ok {
			continue
		}
		if perm.CreatedAt.IsZero() {
			perm.CreatedAt = now
		}
		if perm.UpdatedAt.IsZero() {
			perm.UpdatedAt = now
		}
		p.permissions[perm.ID] = perm
	}
	return nil
}

func (p permissionStore) UpdateDisplayName(ctx context.Context, name, displayName, updatedBy string) error {
	if err := alive(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	perm, ok := p.permissionByName(name)
	if !ok {
		return auth.ErrNotFound
	}
	perm.DisplayName = displayName
	perm.UpdatedAt = p.stamp()
	perm.UpdatedBy = updatedBy
	p.permissions[perm.ID] = perm
	return nil
}

func (s *Store) permissionByName(name string) (auth.Permission, bool) {
	for _, perm := range s.permissions {
		if perm.Name == name {
			return perm, true
		}
	}
	return auth.Permission{}, false
}

// ---- roles ----

type roleStore struct{ *Store }

func (r roleStore) Create(ctx context.Context, role *auth.Role) error {
	if err := alive(ctx); err != nil {
		return err
	}
	role.Normalize()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.roles {
		if existing.NameNormalized == role.NameNormalized {
			return auth.Conflict("name")
		}
	}
	now := r.stamp()
	if role.CreatedAt.IsZero() {
		role.CreatedAt = now
	}
	if role.UpdatedAt.IsZero() {
		role.UpdatedAt = now
	}
	r.roles[role.ID] = *role
	return nil
}

func (r roleStore) Get(ctx context.Context, id string) (auth.Role, error) {
	if err := alive(ctx); err != nil {
		return auth.Role{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[id]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	return role, nil
}

func (r roleStore) GetByName(ctx context.Context, nameNormalized string) (auth.Role, error) {
	if err := alive(ctx); err != nil {
		return auth.Role{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, role := range r.roles {
		if role.NameNormalized == nameNormalized {
			return role, nil
		}
	}
	return auth.Role{}, auth.ErrNotFound
}

func (r roleStore) List(ctx context.Context, q auth.ListQuery) (auth.Page[auth.Role], error) {
	if err := alive(ctx); err != nil {
		return auth.Page[auth.Role]{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var items []auth.Role
	for _, role := range r.roles {
		if contains(q.Search, role.Name, role.Description) {
			items = append(items, role)
		}
	}
	var key func(a, b auth.Role) int
	switch q.SortBy {
	case "created_at":
		key = func(a, b auth.Role) int { return a.CreatedAt.Compare(b.CreatedAt) }
	case "updated_at":
		key = func(a, b auth.Role) int { return a.UpdatedAt.Compare(b.UpdatedAt) }
	default:
		key = func(a, b auth.Role) int { return cmp.Compare(a.NameNormalized, b.NameNormalized) }
	}
	sortBy(items, q.SortDesc, key, func(v auth.Role) string { return v.ID })
	return paginate(items, q), nil
}

func (r roleStore) Update(ctx context.Context, id string, changes auth.RoleChanges) (auth.Role, error) {
	if err := alive(ctx); err != nil {
		return auth.Role{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[id]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	changes.Apply(&role)
	for otherID, other := range r.roles {
		if otherID != id && other.NameNormalized == role.NameNormalized {
			return auth.Role{}, auth.Conflict("name")
		}
	}
	role.UpdatedAt = r.stamp()
	r.roles[id] = role
	return role, nil
}

func (r roleStore) Delete(ctx context.Context, id string) error {
	if err := alive(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[id]; !ok {
		return auth.ErrNotFound
	}
	delete(r.roles, id)
	delete(r.rolePerms, id)
	for _, links := range r.userRoles {
		delete(links, id)
	}
	return nil
}

func (r roleStore) Permissions(ctx context.Context, roleID string) ([]auth.Permission, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.roles[roleID]; !ok {
		return nil, auth.ErrNotFound
	}
	return r.permissionsOf(roleID), nil
}

func (s *Store) permissionsOf(roleIDs ...string) []auth.Permission {
	seen := make(map[string]struct{})
	var out []auth.Permission
	for _, roleID := range roleIDs {
		for permID := range s.rolePerms[roleID] {
			if _, dup := seen[permID]; dup {
				continue
			}
			if perm, ok := s.permissions[permID]; ok {
				seen[permID] = struct{}{}
				out = append(out, perm)
			}
		}
	}
	slices.SortFunc(out, func(a, b auth.Permission) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

func (r roleStore) SetPermissions(ctx context.Context, roleID string, names []string, by string) error {
	if err := alive(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[roleID]; !ok {
		return auth.ErrNotFound
	}
	now := r.stamp()
	links := make(map[string]auth.RolePermission, len(names))
	for _, name := range names {
		perm, ok := r.permissionByName(name)
		if !ok {
			return auth.ErrNotFound
		}
		links[perm.ID] = auth.RolePermission{RoleID: roleID, PermissionID: perm.ID, CreatedAt: now, CreatedBy: by}
	}
	r.rolePerms[roleID] = links
	return nil
}

// ---- users ----

type userStore struct{ *Store }

func (s *Store) uniqueUser(u auth.User) error {
	for id, other := range s.users {
		if id == u.ID {
			continue
		}
		if other.UsernameNormalized == u.UsernameNormalized {
			return auth.Conflict("username")
		}
		if other.EmailNormalized == u.EmailNormalized {
			return auth.Conflict("email")
		}
	}
	return nil
}

func (u userStore) Create(ctx context.Context, user *auth.User) error {
	if err := alive(ctx); err != nil {
		return err
	}
	user.Normalize()
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.users[user.ID]; ok {
		return auth.Conflict("id")
	}
	if err := u.uniqueUser(*user); err != nil {
		return err
	}
	now := u.stamp()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}
	u.users[user.ID] = *user
	return nil
}

func (u userStore) Get(ctx context.Context, id string) (auth.User, error) {
	if err := alive(ctx); err != nil {
		return auth.User{}, err
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	user, ok := u.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return user, nil
}

func (u userStore) find(ctx context.Context, match func(auth.User) bool) (auth.User, error) {
	if err := alive(ctx); err != nil {
		return auth.User{}, err
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	for _, user := range u.users {
		if match(user) {
			return user, nil
		}
	}
	return auth.User{}, auth.ErrNotFound
}

func (u userStore) GetByUsername(ctx context.Context, usernameNormalized string) (auth.User, error) {
	return u.find(ctx, func(v auth.User) bool { return v.UsernameNormalized == usernameNormalized })
}

func (u userStore) GetByEmail(ctx context.Context, emailNormalized string) (auth.User, error) {
	return u.find(ctx, func(v auth.User) bool { return v.EmailNormalized == emailNormalized })
}

func (u userStore) List(ctx context.Context, q auth.ListQuery) (auth.Page[auth.User], error) {
	if err := alive(ctx); err != nil {
		return auth.Page[auth.User]{}, err
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	var items []auth.User
	for _, user := range u.users {
		if contains(q.Search, user.Username, user.Email, user.FirstName, user.LastName) {
			items = append(items, user)
		}
	}
	var key func(a, b auth.User) int
	switch q.SortBy {
	case "email":
		key = func(a, b auth.User) int { return cmp.Compare(a.EmailNormalized, b.EmailNormalized) }
	case "created_at":
		key = func(a, b auth.User) int { return a.CreatedAt.Compare(b.CreatedAt) }
	case "updated_at":
		key = func(a, b auth.User) int { return a.UpdatedAt.Compare(b.UpdatedAt) }
	default:
		key = func(a, b auth.User) int { return cmp.Compare(a.UsernameNormalized, b.UsernameNormalized) }
	}
	sortBy(items, q.SortDesc, key, func(v auth.User) string { return v.ID })
	return paginate(items, q), nil
}

func (u userStore) Update(ctx context.Context, id string, changes auth.UserChanges) (auth.User, error) {
	if err := alive(ctx); err != nil {
		return auth.User{}, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	changes.Apply(&user)
	if err := u.uniqueUser(user); err != nil {
		return auth.User{}, err
	}
	user.UpdatedAt = u.stamp()
	u.users[id] = user
	return user, nil
}

func (u userStore) Delete(ctx context.Context, id string) error {
	if err := alive(ctx); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.users[id]; !ok {
		return auth.ErrNotFound
	}
	delete(u.users, id)
	delete(u.userRoles, id)
	for sid, sess := range u.sessions {
		if sess.UserID == id {
			delete(u.sessions, sid)
		}
	}
	for tid, tok := range u.tokens {
		if tok.UserID == id {
			delete(u.tokens, tid)
		}
	}
	return nil
}

func (u userStore) Roles(ctx context.Context, userID string) ([]auth.Role, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	if _, ok := u.users[userID]; !ok {
		return nil, auth.ErrNotFound
	}
	var out []auth.Role
	for roleID := range u.userRoles[userID] {
		if role, ok := u.roles[roleID]; ok {
			out = append(out, role)
		}
	}
	slices.SortFunc(out, func(a, b auth.Role) int { return cmp.Compare(a.NameNormalized, b.NameNormalized) })
	return out, nil
}

func (u userStore) SetRoles(ctx context.Context, userID string, roleIDs []string, by string) error {
	if err := alive(ctx); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.users[userID]; !ok {
		return auth.ErrNotFound
	}
	now := u.stamp()
	links := make(map[string]auth.UserRole, len(roleIDs))
	for _, roleID := range roleIDs {
		if _, ok := u.roles[roleID]; !ok {
			return auth.ErrNotFound
		}
		links[roleID] = auth.UserRole{UserID: userID, RoleID: roleID, CreatedAt: now, CreatedBy: by}
	}
	u.userRoles[userID] = links
	return nil
}

func (u userStore) Permissions(ctx context.Context, userID string) ([]auth.Permission, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	if _, ok := u.users[userID]; !ok {
		return nil, auth.ErrNotFound
	}
	roleIDs := make([]string, 0, len(u.userRoles[userID]))
	for roleID := range u.userRoles[userID] {
		roleIDs = append(roleIDs, roleID)
	}
	return u.permissionsOf(roleIDs...), nil
}

// ---- sessions ----

type sessionStore struct{ *Store }

func (a sessionStore) Create(ctx context.Context, tok *auth.AuthToken) error {
	if err := alive(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.users[tok.UserID]; !ok {
		return auth.ErrNotFound
	}
	if _, ok := a.sessions[tok.ID]; ok {
		return auth.Conflict("id")
	}
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = a.stamp()
	}
	a.sessions[tok.ID] = *tok
	return nil
}

func (a sessionStore) match(userID, refreshHash string, now time.Time) (auth.AuthToken, bool) {
	for _, sess := range a.sessions {
		if sess.UserID == userID && sess.RefreshTokenHash == refreshHash && sess.RefreshExpiry.After(now) {
			return sess, true
		}
	}
	return auth.AuthToken{}, false
}

func (a sessionStore) Exists(ctx context.Context, userID, refreshHash string, now time.Time) (bool, error) {
	if err := alive(ctx); err != nil {
		return false, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.match(userID, refreshHash, now)
	return ok, nil
}

func (a sessionStore) Consume(ctx context.Context, userID, refreshHash string, now time.Time) (auth.AuthToken, error) {
	if err := alive(ctx); err != nil {
		return auth.AuthToken{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	sess, ok := a.match(userID, refreshHash, now)
	if !ok {
		return auth.AuthToken{}, auth.ErrNotFound
	}
	delete(a.sessions, sess.ID)
	return sess, nil
}

func (a sessionStore) Delete(ctx context.Context, userID, id string) error {
	if err := alive(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	sess, ok := a.sessions[id]
	if !ok || sess.UserID != userID {
		return auth.ErrNotFound
	}
	delete(a.sessions, id)
	return nil
}

func (a sessionStore) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	if err := alive(ctx); err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	var n int64
	for id, sess := range a.sessions {
		if sess.UserID == userID {
			delete(a.sessions, id)
			n++
		}
	}
	return n, nil
}

func (a sessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := alive(ctx); err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	var n int64
	for id, sess := range a.sessions {
		if sess.RefreshExpiry.Before(now) {
			delete(a.sessions, id)
			n++
		}
	}
	return n, nil
}

// ---- single-use tokens ----

type tokenStore struct{ *Store }

func (t tokenStore) Create(ctx context.Context, tok *auth.Token) error {
	if err := alive(ctx); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.users[tok.UserID]; !ok {
		return auth.ErrNotFound
	}
	for _, other := range t.tokens {
		if other.ValueHash == tok.ValueHash {
			return auth.Conflict("value")
		}
	}
	now := t.stamp()
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = now
	}
	if tok.UpdatedAt.IsZero() {
		tok.UpdatedAt = now
	}
	t.tokens[tok.ID] = *tok
	return nil
}

func (t tokenStore) GetByValue(ctx context.Context, valueHash string) (auth.Token, error) {
	if err := alive(ctx); err != nil {
		return auth.Token{}, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, tok := range t.tokens {
		if tok.ValueHash == valueHash {
			return tok, nil
		}
	}
	return auth.Token{}, auth.ErrNotFound
}

func (t tokenStore) MarkUsed(ctx context.Context, id, by string) error {
	if err := alive(ctx); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	tok, ok := t.tokens[id]
	if !ok {
		return auth.ErrNotFound
	}
	if tok.IsUsed {
		return auth.ErrTokenAlreadyUsed
	}
	tok.IsUsed = true
	tok.UpdatedAt = t.stamp()
	tok.UpdatedBy = by
	t.tokens[id] = tok
	return nil
}

func (t tokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := alive(ctx); err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int64
	for id, tok := range t.tokens {
		if tok.Expiry.Before(now) {
			delete(t.tokens, id)
			n++
		}
	}
	return n, nil
}
