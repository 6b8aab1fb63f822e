// Package permission implements Coral's hierarchical permission system:
// resolution over (user, group) pairs with persistent JSON storage.
// Grounded on Coral/perm_system.py's _check_single_perm resolution order,
// folded together with the Console/list-handling steps spec.md's §4.3
// describes as the full 9-step order.
package permission

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/ProjectCoral/Coral/pkg/protocol"
)

// ALLGroup is the sentinel group value meaning "every group", used in
// user-perm grants.
const ALLGroup = "ALL"

// GlobalGroup is the sentinel group id whose perms apply everywhere.
const GlobalGroup = "-1"

// ALLPerm is the sentinel permission name meaning "every permission".
const ALLPerm = "ALL"

// Grant is a single (perm, group) entry held by a user.
type Grant struct {
	Perm  string `json:"perm"`
	Group string `json:"group"`
}

type store struct {
	UserPerms  map[string][]Grant  `json:"user_perms"`
	GroupPerms map[string][]string `json:"group_perms"`
}

// System answers Check(perm_or_list, user_id, group_id) and persists
// grants. The in-memory copy is guarded by an RWMutex; every mutation
// writes the whole file back atomically (temp file + rename).
type System struct {
	mu    sync.RWMutex
	data  store
	path  string
	log   *slog.Logger
	perms map[string]string // registered_perms: name -> description
}

// New constructs a System backed by the JSON file at path. A missing file
// is created with empty maps.
func New(path string, logger *slog.Logger) (*System, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &System{
		path:  path,
		log:   logger,
		perms: make(map[string]string),
		data: store{
			UserPerms:  make(map[string][]Grant),
			GroupPerms: make(map[string][]string),
		},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *System) load() error {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s.save()
	}
	if err != nil {
		return fmt.Errorf("read permission store: %w", err)
	}
	var d store
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("parse permission store: %w", err)
	}
	if d.UserPerms == nil {
		d.UserPerms = make(map[string][]Grant)
	}
	if d.GroupPerms == nil {
		d.GroupPerms = make(map[string][]string)
	}
	s.mu.Lock()
	s.data = d
	s.mu.Unlock()
	return nil
}

// save persists the in-memory store atomically: write to a temp file in
// the same directory, fsync, then rename over the destination.
func (s *System) save() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.data, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal permission store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create permission store directory: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, "perms-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp permission file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp permission file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp permission file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp permission file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename permission file: %w", err)
	}
	cleanup = false
	return nil
}

// RegisterPerm records a known permission name and its description. An
// unregistered permission name is allowed by Check (step 3 of the
// resolution order) with a warning, rather than treated as a hard deny.
func (s *System) RegisterPerm(name, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perms[name] = description
}

func (s *System) isRegistered(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.perms[name]
	return ok
}

// Check answers the 9-step resolution order over a single permission name
// or an any-of list (AnyOf), for (userID, groupID). userID == "Console"
// always allows.
func (s *System) Check(permOrList any, userID, groupID string) bool {
	if userID == protocol.ConsoleUserID {
		return true
	}

	switch v := permOrList.(type) {
	case []string:
		for _, p := range v {
			if s.checkSingle(p, userID, groupID) {
				return true
			}
		}
		return false
	case string:
		return s.checkSingle(v, userID, groupID)
	default:
		return false
	}
}

func (s *System) checkSingle(perm, userID, groupID string) bool {
	if !s.isRegistered(perm) {
		s.log.Warn("permission check against unregistered permission, allowing", "perm", perm)
		return true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, g := range s.data.UserPerms[userID] {
		if g.Perm == ALLPerm && g.Group == ALLGroup {
			return true
		}
	}
	for _, g := range s.data.UserPerms[userID] {
		if g.Perm == perm && g.Group == ALLGroup {
			return true
		}
	}
	for _, g := range s.data.UserPerms[userID] {
		if g.Perm == perm && g.Group == groupID {
			return true
		}
	}
	for _, p := range s.data.GroupPerms[groupID] {
		if p == perm {
			return true
		}
	}
	for _, p := range s.data.GroupPerms[GlobalGroup] {
		if p == perm {
			return true
		}
	}
	return false
}

// Grant adds a (perm, group) entry to userID's grants and persists the
// store. group may be a concrete group id, ALLGroup, or GlobalGroup.
func (s *System) Grant(perm, userID, group string) error {
	s.mu.Lock()
	grants := s.data.UserPerms[userID]
	for _, g := range grants {
		if g.Perm == perm && g.Group == group {
			s.mu.Unlock()
			return nil
		}
	}
	s.data.UserPerms[userID] = append(grants, Grant{Perm: perm, Group: group})
	s.mu.Unlock()
	return s.save()
}

// Revoke removes a (perm, group) entry from userID's grants.
func (s *System) Revoke(perm, userID, group string) error {
	s.mu.Lock()
	grants := s.data.UserPerms[userID]
	out := grants[:0]
	for _, g := range grants {
		if !(g.Perm == perm && g.Group == group) {
			out = append(out, g)
		}
	}
	s.data.UserPerms[userID] = out
	s.mu.Unlock()
	return s.save()
}

// GrantAll is the `grant` shorthand: add <perm> <user> ALL.
func (s *System) GrantAll(perm, userID string) error {
	return s.Grant(perm, userID, ALLGroup)
}

// RevokeAll is the `revoke` shorthand: remove <perm> <user> ALL.
func (s *System) RevokeAll(perm, userID string) error {
	return s.Revoke(perm, userID, ALLGroup)
}

// GrantGroup adds perm to groupID's permission list.
func (s *System) GrantGroup(perm, groupID string) error {
	s.mu.Lock()
	for _, p := range s.data.GroupPerms[groupID] {
		if p == perm {
			s.mu.Unlock()
			return nil
		}
	}
	s.data.GroupPerms[groupID] = append(s.data.GroupPerms[groupID], perm)
	s.mu.Unlock()
	return s.save()
}

// RevokeGroup removes perm from groupID's permission list.
func (s *System) RevokeGroup(perm, groupID string) error {
	s.mu.Lock()
	perms := s.data.GroupPerms[groupID]
	out := perms[:0]
	for _, p := range perms {
		if p != perm {
			out = append(out, p)
		}
	}
	s.data.GroupPerms[groupID] = out
	s.mu.Unlock()
	return s.save()
}

// ListUser returns a copy of userID's grants.
func (s *System) ListUser(userID string) []Grant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Grant, len(s.data.UserPerms[userID]))
	copy(out, s.data.UserPerms[userID])
	return out
}

// ListGroup returns a copy of groupID's permission list.
func (s *System) ListGroup(groupID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.data.GroupPerms[groupID]))
	copy(out, s.data.GroupPerms[groupID])
	return out
}

// RegisteredPerms returns a snapshot of the registered_perms map.
func (s *System) RegisteredPerms() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.perms))
	for k, v := range s.perms {
		out[k] = v
	}
	return out
}
