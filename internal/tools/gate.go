package tools

import "sync"

// PermissionGate decides whether a tool name may run. The effective set is
// the intersection of the session allow-list and the per-turn override; an
// unset list does not restrict.
type PermissionGate struct {
	mu      sync.RWMutex
	session map[string]bool
	turn    map[string]bool
}

// NewPermissionGate creates a gate with a session allow-list. A nil list
// allows every tool.
func NewPermissionGate(sessionAllow []string) *PermissionGate {
	return &PermissionGate{session: toSet(sessionAllow)}
}

// SetSessionAllow replaces the session allow-list. Nil removes it.
func (g *PermissionGate) SetSessionAllow(names []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.session = toSet(names)
}

// SetTurnOverride installs a per-turn allow-list. Nil removes it.
func (g *PermissionGate) SetTurnOverride(names []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.turn = toSet(names)
}

// ClearTurnOverride removes the per-turn allow-list.
func (g *PermissionGate) ClearTurnOverride() {
	g.SetTurnOverride(nil)
}

// IsToolAllowed reports whether name passes both lists.
func (g *PermissionGate) IsToolAllowed(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.session != nil && !g.session[name] {
		return false
	}
	if g.turn != nil && !g.turn[name] {
		return false
	}
	return true
}

// FilterAllowedTools keeps the allowed names, preserving order.
func (g *PermissionGate) FilterAllowedTools(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if g.IsToolAllowed(n) {
			out = append(out, n)
		}
	}
	return out
}

// Effective returns the registered tools this gate lets through. It is the
// capability ceiling handed to subagents.
func (g *PermissionGate) Effective(registered []string) []string {
	return g.FilterAllowedTools(registered)
}

// Unrestricted reports whether neither list is set.
func (g *PermissionGate) Unrestricted() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.session == nil && g.turn == nil
}

func toSet(names []string) map[string]bool {
	if names == nil {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
