// Package entity maps auth entity names (users, admins, vendors) to their identity table, default
// field values and repository. It is resolved once at startup.
package entity

import (
	"fmt"
	"sort"
	"strings"

	"multi-entity-auth/backend/internal/autherr"
	identityrepo "multi-entity-auth/backend/internal/identity/repository"
)

// DefaultEntity is served when AUTH_ENTITY is not set.
const DefaultEntity = "users"

// Defaults are the field values a newly registered identity of an entity starts with.
type Defaults struct {
	Role  string
	Level int
	// RequireVerifiedEmail makes the login admission policy reject unverified identities.
	RequireVerifiedEmail bool
}

// Definition describes one auth entity.
type Definition struct {
	Name     string
	Table    string
	Defaults Defaults
}

// Builtin is the registry of known entities.
var Builtin = []Definition{
	{Name: "users", Table: "users", Defaults: Defaults{Role: "user"}},
	{Name: "admins", Table: "admins", Defaults: Defaults{Role: "admin", Level: 1}},
	{Name: "vendors", Table: "vendors", Defaults: Defaults{Role: "vendor"}},
}

// RepositoryFactory builds the identity repository for a definition.
type RepositoryFactory func(Definition) (identityrepo.Repository, error)

// Resolved is a definition bound to its repository.
type Resolved struct {
	Definition
	Repository identityrepo.Repository
}

// Resolver resolves entity names against a registry.
type Resolver struct {
	defs    map[string]Definition
	factory RepositoryFactory
}

// NewResolver returns a resolver over defs (Builtin when empty) using factory to build repositories.
func NewResolver(factory RepositoryFactory, defs ...Definition) *Resolver {
	if len(defs) == 0 {
		defs = Builtin
	}
	m := make(map[string]Definition, len(defs))
	for _, d := range defs {
		m[d.Name] = d
	}
	return &Resolver{defs: m, factory: factory}
}

// Lookup returns the definition for name. Unknown names are a configuration error.
func (r *Resolver) Lookup(name string) (Definition, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = DefaultEntity
	}
	d, ok := r.defs[name]
	if !ok {
		return Definition{}, autherr.NewConfigurationError("AUTH_ENTITY",
			fmt.Sprintf("unknown auth entity %q; known: %s", name, strings.Join(r.Names(), ", ")))
	}
	return d, nil
}

// Resolve returns the definition for name with its repository.
func (r *Resolver) Resolve(name string) (*Resolved, error) {
	d, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	if r.factory == nil {
		return nil, autherr.NewConfigurationError("AUTH_ENTITY", "no repository factory configured")
	}
	repo, err := r.factory(d)
	if err != nil {
		return nil, err
	}
	return &Resolved{Definition: d, Repository: repo}, nil
}

// Names returns the registered entity names, sorted.
func (r *Resolver) Names() []string {
	out := make([]string, 0, len(r.defs))
	for n := range r.defs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
