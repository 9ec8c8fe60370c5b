package entity

import (
	"errors"
	"testing"

	"multi-entity-auth/backend/internal/autherr"
	identityrepo "multi-entity-auth/backend/internal/identity/repository"
)

func memoryFactory(d Definition) (identityrepo.Repository, error) {
	return identityrepo.NewMemoryRepository(d.Name), nil
}

func TestResolver_Builtin(t *testing.T) {
	r := NewResolver(memoryFactory)
	tests := []struct {
		name      string
		wantName  string
		wantRole  string
		wantLevel int
	}{
		{"", "users", "user", 0},
		{"users", "users", "user", 0},
		{" Admins ", "admins", "admin", 1},
		{"vendors", "vendors", "vendor", 0},
	}
	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			res, err := r.Resolve(tt.name)
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tt.name, err)
			}
			if res.Name != tt.wantName || res.Table != tt.wantName {
				t.Errorf("Resolve(%q) = %s/%s", tt.name, res.Name, res.Table)
			}
			if res.Defaults.Role != tt.wantRole || res.Defaults.Level != tt.wantLevel {
				t.Errorf("defaults = %+v", res.Defaults)
			}
			if res.Repository == nil {
				t.Error("repository not built")
			}
		})
	}
}

func TestResolver_UnknownEntity(t *testing.T) {
	r := NewResolver(memoryFactory)
	_, err := r.Resolve("customers")
	if !errors.Is(err, autherr.ErrConfiguration) {
		t.Fatalf("want configuration error, got %v", err)
	}
	var cfgErr *autherr.ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "AUTH_ENTITY" {
		t.Errorf("unexpected error: %#v", err)
	}
}

func TestResolver_FactoryError(t *testing.T) {
	boom := errors.New("boom")
	r := NewResolver(func(Definition) (identityrepo.Repository, error) { return nil, boom })
	if _, err := r.Resolve("users"); !errors.Is(err, boom) {
		t.Fatalf("want factory error, got %v", err)
	}
	if _, err := NewResolver(nil).Resolve("users"); !errors.Is(err, autherr.ErrConfiguration) {
		t.Fatalf("nil factory: want configuration error, got %v", err)
	}
}

func TestResolver_CustomRegistry(t *testing.T) {
	r := NewResolver(memoryFactory, Definition{Name: "partners", Table: "partners", Defaults: Defaults{Role: "partner", RequireVerifiedEmail: true}})
	if got := r.Names(); len(got) != 1 || got[0] != "partners" {
		t.Fatalf("Names = %v", got)
	}
	if _, err := r.Lookup("users"); err == nil {
		t.Error("users is not registered in a custom registry")
	}
	d, err := r.Lookup("partners")
	if err != nil || !d.Defaults.RequireVerifiedEmail {
		t.Errorf("Lookup(partners) = %+v, %v", d, err)
	}
}
