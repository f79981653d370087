package models

import (
	"sort"
	"strings"
)

// Updates is a partial write against a lobby document: dotted field path ->
// new value. A value of Delete removes the key.
type Updates map[string]interface{}

type deleteField struct{}

// Delete marks a field path for removal.
var Delete = deleteField{}

// Set records a field write and returns the map for chaining.
func (u Updates) Set(path string, value interface{}) Updates {
	u[path] = value
	return u
}

// Paths returns the field paths in a stable order: shorter paths first so
// that a parent object is written before any of its children.
func (u Updates) Paths() []string {
	paths := make([]string, 0, len(u))
	for p := range u {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return pathLess(paths[i], paths[j]) })
	return paths
}

func pathLess(a, b string) bool {
	da, db := strings.Count(a, "."), strings.Count(b, ".")
	if da != db {
		return da < db
	}
	return a < b
}

// PlayerPath builds "players.<id>" or "players.<id>.<field>".
func PlayerPath(playerID string, field ...string) string {
	parts := append([]string{"players", playerID}, field...)
	return strings.Join(parts, ".")
}

// MeetingPath builds "meeting.<field...>".
func MeetingPath(field ...string) string {
	return strings.Join(append([]string{"meeting"}, field...), ".")
}
