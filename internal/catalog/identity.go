package catalog

import (
	"github.com/tuannm99/novacat/internal/record"
)

// BootstrapIdentity reserves an identifier for a well-known system relation.
// Pinned relations stay in the relation cache for the life of the process.
type BootstrapIdentity struct {
	Name string     `mapstructure:"name" validate:"required"`
	ID   record.Oid `mapstructure:"id" validate:"required"`
	Pin  bool       `mapstructure:"pin"`
}

// DefaultBootstrapIdentities are the catalogs that describe themselves plus
// the shared privilege and database catalogs.
var DefaultBootstrapIdentities = []BootstrapIdentity{
	{Name: "pg_type", ID: 1247, Pin: true},
	{Name: "pg_attribute", ID: 1249, Pin: true},
	{Name: "pg_proc", ID: 1255, Pin: true},
	{Name: "pg_class", ID: 1259, Pin: true},
	{Name: "pg_shadow", ID: 1260},
	{Name: "pg_group", ID: 1261},
	{Name: "pg_database", ID: 1262},
}

// IdentityAllocator assigns relation identifiers.
type IdentityAllocator struct {
	reserved map[string]BootstrapIdentity
	gen      *record.OidGenerator
}

func NewIdentityAllocator(bootstrap []BootstrapIdentity, gen *record.OidGenerator) *IdentityAllocator {
	a := &IdentityAllocator{
		reserved: make(map[string]BootstrapIdentity, len(bootstrap)),
		gen:      gen,
	}
	for _, b := range bootstrap {
		a.reserved[b.Name] = b
	}
	return a
}

// Assign returns the identifier for a new relation. Reserved names are only
// honored in the system namespace.
func (a *IdentityAllocator) Assign(name string, ns record.Oid) (record.Oid, bool) {
	if ns == record.NamespaceCatalog {
		if b, ok := a.reserved[name]; ok {
			return b.ID, b.Pin
		}
	}
	return a.gen.Next(), false
}

// Fresh returns a generated identifier for non-relation objects.
func (a *IdentityAllocator) Fresh() record.Oid {
	return a.gen.Next()
}
