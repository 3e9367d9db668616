package domain

// FieldRule is one enumerated constraint set for a tenant form field.
// Required, Pattern, Format and MinLength are checked against the
// submitted document; Unique names the table whose column must not hold
// the value yet.
type FieldRule struct {
	Field     string
	Required  bool
	Pattern   string
	Format    string
	MinLength int
	Unique    string
}

const (
	UniqueTenants = "tenants"
	UniqueDomains = "domains"
)

const MinPasswordLength = 8

var TenantCreateRules = []FieldRule{
	{Field: "name", Required: true, MinLength: 1, Unique: UniqueTenants},
	{Field: "id", Required: true, Pattern: `^[a-z0-9][a-z0-9_]{0,62}$`, Unique: UniqueTenants},
	{Field: "domain", Required: true, Pattern: `^[a-z0-9]([a-z0-9.-]{0,251}[a-z0-9])?$`, Unique: UniqueDomains},
	{Field: "email", Required: true, Format: "email"},
	{Field: "phone", Pattern: `^[0-9+()\- ]*$`},
	{Field: "password", MinLength: MinPasswordLength},
}

var TenantUpdateRules = []FieldRule{
	{Field: "name", MinLength: 1, Unique: UniqueTenants},
	{Field: "email", Format: "email"},
	{Field: "phone", Pattern: `^[0-9+()\- ]*$`},
	{Field: "password", MinLength: MinPasswordLength},
}

var PasswordResetRules = []FieldRule{
	{Field: "password", Required: true, MinLength: MinPasswordLength},
}
