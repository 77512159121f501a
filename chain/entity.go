// Package chain tracks which entities on a game board are reachable from
// each of the two starting actors, and finds the shortest connecting path
// the moment both actors can reach a shared entity.
//
// The package keeps one rooted tree per starting actor. Every entity placed
// on the board is grafted into each tree that already contains one of its
// neighbors. An entity present in both trees is a bridge: joining the two
// root-to-bridge paths yields a full connecting chain between the actors.
package chain

import (
	"fmt"
	"strconv"
	"strings"
)

// EntityType tags what kind of credit an entity is.
type EntityType string

const (
	Person EntityType = "person"
	Movie  EntityType = "movie"
	TV     EntityType = "tv"
)

func (t EntityType) Valid() bool {
	switch t {
	case Person, Movie, TV:
		return true
	}
	return false
}

// Key renders the composite key used everywhere in the system: "{type}-{id}".
func Key(t EntityType, id int) string {
	return string(t) + "-" + strconv.Itoa(id)
}

// ParseKey splits a composite key back into its type tag and raw id.
func ParseKey(key string) (EntityType, string, error) {
	tag, id, found := strings.Cut(key, "-")
	if !found || id == "" {
		return "", "", fmt.Errorf("malformed entity key %q, want \"{type}-{id}\"", key)
	}
	t := EntityType(tag)
	if !t.Valid() {
		return "", "", fmt.Errorf("unknown entity type %q in key %q", tag, key)
	}
	return t, id, nil
}

// Edge is an undirected connection between a newly placed entity and an
// entity already on the board. Either field may hold the new entity's key.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Other resolves which endpoint is the neighbor of id. The second return is
// false when the edge does not involve id at all.
func (e Edge) Other(id string) (string, bool) {
	switch id {
	case e.Source:
		return e.Target, true
	case e.Target:
		return e.Source, true
	}
	return "", false
}
