/*
Package organica models the four-level organizational hierarchy (org0..org3)
and enforces its referential integrity in application code.

PURPOSE:
  Hierarchy levels live in independent tables with no foreign keys. Nothing
  in storage stops an org2 row from pointing at a missing org1. This package
  is the only place that answers "does this unit exist" and "may this unit
  be removed", and every mutation path (node CRUD, affectation registration)
  asks it first.

KEY CONCEPTS:
  - Key:       (org0, org1, org2, org3) tuple, deepest non-empty level wins
  - Level:     0 (broadest) .. 3 (narrowest)
  - Node:      a stored unit at one level
  - Store:     existence and child-count reads, implemented by store/*
  - Hierarchy: Exists / HasDependents / ValidateChain / GuardCreate / GuardDelete

INVARIANT:
  A node at level n never exists without an existing parent at level n-1.

SEE ALSO:
  - hierarchy.go: the checks
  - store/sqlite, store/postgres, store/memory: Store implementations
*/
package organica

import (
	"fmt"
	"strings"
	"time"

	"github.com/warp/afectaciones-engine/schema"
)

// =============================================================================
// LEVEL
// =============================================================================

type Level int

const (
	Level0 Level = iota
	Level1
	Level2
	Level3
)

// MaxLevel is the narrowest level; nodes at MaxLevel never have dependents.
const MaxLevel = Level3

func (l Level) Valid() bool { return l >= Level0 && l <= MaxLevel }

// Table returns the storage table holding nodes of this level.
func (l Level) Table() string { return fmt.Sprintf("org%d", int(l)) }

func (l Level) String() string { return l.Table() }

// =============================================================================
// KEY
// =============================================================================

// Key identifies an organizational unit. Empty trailing levels mean the unit
// lives at a broader level.
type Key struct {
	Org0 string `json:"org0" validate:"required,alphanum,max=8"`
	Org1 string `json:"org1,omitempty" validate:"required_with=Org2 Org3,omitempty,alphanum,max=8"`
	Org2 string `json:"org2,omitempty" validate:"required_with=Org3,omitempty,alphanum,max=8"`
	Org3 string `json:"org3,omitempty" validate:"omitempty,alphanum,max=8"`
}

// NewKey builds a key from up to four codes, trimming blanks.
func NewKey(codes ...string) Key {
	var k Key
	for i, c := range codes {
		if i > int(MaxLevel) {
			break
		}
		k = k.with(Level(i), strings.TrimSpace(c))
	}
	return k
}

// Codes returns the four level codes in order, empty for absent levels.
func (k Key) Codes() [4]string { return [4]string{k.Org0, k.Org1, k.Org2, k.Org3} }

// Code returns the code at level l.
func (k Key) Code(l Level) string {
	if !l.Valid() {
		return ""
	}
	return k.Codes()[l]
}

// Level returns the deepest non-empty level. A zero key reports Level0.
func (k Key) Level() Level {
	codes := k.Codes()
	for l := MaxLevel; l > Level0; l-- {
		if codes[l] != "" {
			return l
		}
	}
	return Level0
}

// IsZero reports whether no code is set.
func (k Key) IsZero() bool { return k == Key{} }

// Truncate keeps levels 0..l and clears the rest.
func (k Key) Truncate(l Level) Key {
	var out Key
	codes := k.Codes()
	for i := Level0; i <= l && i <= MaxLevel; i++ {
		out = out.with(i, codes[i])
	}
	return out
}

// Parent returns the key one level up. The parent of a level-0 key is the zero key.
func (k Key) Parent() Key {
	l := k.Level()
	if l == Level0 {
		return Key{}
	}
	return k.Truncate(l - 1)
}

// Child returns k extended by code at the next level.
func (k Key) Child(code string) Key {
	if k.Level() == MaxLevel {
		return k
	}
	if k.IsZero() {
		return Key{Org0: code}
	}
	return k.with(k.Level()+1, code)
}

// Clave is the storage row key: every present code concatenated.
func (k Key) Clave() string {
	var b strings.Builder
	for _, c := range k.Codes() {
		b.WriteString(c)
	}
	return b.String()
}

// Branch is the (org0, org1) pair that owns quincena state.
func (k Key) Branch() Key { return k.Truncate(Level1) }

func (k Key) String() string {
	parts := make([]string, 0, 4)
	for _, c := range k.Codes() {
		if c == "" {
			break
		}
		parts = append(parts, c)
	}
	return strings.Join(parts, "/")
}

func (k Key) with(l Level, code string) Key {
	switch l {
	case Level0:
		k.Org0 = code
	case Level1:
		k.Org1 = code
	case Level2:
		k.Org2 = code
	case Level3:
		k.Org3 = code
	}
	return k
}

// CheckFormat validates the key's shape: codes are short alphanumerics and no
// level is set without its ancestors. It does not touch storage.
func (k Key) CheckFormat() error {
	return schema.Check(k)
}

// =============================================================================
// NODE
// =============================================================================

// Node is one stored organizational unit.
type Node struct {
	Key       Key
	Nombre    string
	CreatedAt time.Time
}

func (n Node) Level() Level { return n.Key.Level() }
