/*
Package elections implements elective governance for a community simulation:
the lifecycle of parliamentary, presidential, and party leadership elections
held for nations and parties, the largest-remainder apportionment of
legislative seats, and the durable, timer-driven scheduling that carries
elections through their phases across process restarts.
*/
package elections

import (
	"fmt"
	"strings"
)

// Context kinds that elections can be held for.
const (
	UnknownKind ContextKind = iota
	NationKind
	PartyKind
)

var contextKindStrings = [...]string{"unknown", "nation", "party"}

// Election types; the natural key of an active election is (Context, ElectionType).
const (
	UnknownType ElectionType = iota
	Parliamentary
	Presidential
	PartyLeader
)

var electionTypeStrings = [...]string{"unknown", "parliamentary", "presidential", "party_leader"}

//===========================================================================
// Context
//===========================================================================

// ContextKind distinguishes the entity an election is about.
type ContextKind uint8

// String returns the name of the context kind.
func (k ContextKind) String() string {
	if int(k) >= len(contextKindStrings) {
		return contextKindStrings[0]
	}
	return contextKindStrings[k]
}

// ParseContextKind returns the context kind for the given name.
func ParseContextKind(s string) (ContextKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range contextKindStrings {
		if i > 0 && name == s {
			return ContextKind(i), nil
		}
	}
	return UnknownKind, fmt.Errorf("unknown context kind %q", s)
}

// Context identifies the nation or party an election is held for. The kind is
// always carried explicitly so that a context id is never resolved by trial.
type Context struct {
	Kind ContextKind
	ID   string
}

// NationContext returns the context for the nation with the given id.
func NationContext(id string) Context {
	return Context{Kind: NationKind, ID: id}
}

// PartyContext returns the context for the party with the given id.
func PartyContext(id string) Context {
	return Context{Kind: PartyKind, ID: id}
}

// IsZero returns true if the context does not reference an entity.
func (c Context) IsZero() bool {
	return c.Kind == UnknownKind || c.ID == ""
}

// String returns a kind:id representation of the context.
func (c Context) String() string {
	return c.Kind.String() + ":" + c.ID
}

//===========================================================================
// Election Type
//===========================================================================

// ElectionType is an enumeration of the kinds of elections that can be held.
type ElectionType uint8

// String returns the name of the election type.
func (t ElectionType) String() string {
	if int(t) >= len(electionTypeStrings) {
		return electionTypeStrings[0]
	}
	return electionTypeStrings[t]
}

// ParseElectionType returns the election type for the given name.
func ParseElectionType(s string) (ElectionType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range electionTypeStrings {
		if i > 0 && name == s {
			return ElectionType(i), nil
		}
	}
	return UnknownType, fmt.Errorf("unknown election type %q", s)
}

// MarshalText encodes the election type by name in documents.
func (t ElectionType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes an election type from its name.
func (t *ElectionType) UnmarshalText(text []byte) (err error) {
	*t, err = ParseElectionType(string(text))
	return err
}

// SingleWinner returns true if the election type elects exactly one person.
func (t ElectionType) SingleWinner() bool {
	return t == Presidential || t == PartyLeader
}

// Legal reports whether elections of this type can be held for the context kind.
func (t ElectionType) Legal(kind ContextKind) bool {
	switch t {
	case Parliamentary, Presidential:
		return kind == NationKind
	case PartyLeader:
		return kind == PartyKind
	default:
		return false
	}
}

// key returns the natural key of an election of type t held for context c.
func key(c Context, t ElectionType) string {
	return c.String() + ":" + t.String()
}
