// package models defines the data model for the provisioning pipeline
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Fixed column values written to new identity and domain rows.
const (
	UserStatusActive     = 0
	UserTypeRegular      = 0
	UserTypeAdmin        = 1
	ActorLevelDefault    = 1
	ApplicationIDDefault = 1
)

// Division names that grant API administrator rights.
const (
	DivisionAdministrator = "ADMINISTRATOR"
	DivisionAll           = "ALL"
)

// ControlLevel is the access scope of a domain user, stored as its integer value.
type ControlLevel int

const (
	ControlSection ControlLevel = iota
	ControlDivision
	ControlOrganization
	ControlApplication
)

func (c ControlLevel) String() string {
	switch c {
	case ControlSection:
		return "SECTION"
	case ControlDivision:
		return "DIVISION"
	case ControlOrganization:
		return "ORGANIZATION"
	case ControlApplication:
		return "APPLICATION"
	default:
		return fmt.Sprintf("ControlLevel(%d)", int(c))
	}
}

// ParseControlLevel derives a [ControlLevel] from free text.
//
// Matching is by case-insensitive prefix (DEV/DIV, ORG, APP, SEC). Exact names and in-range
// integer literals are accepted too; anything else, including blank input, yields [ControlSection].
func ParseControlLevel(raw string) ControlLevel {
	v := strings.ToUpper(strings.TrimSpace(raw))
	switch {
	case v == "":
		return ControlSection
	case strings.HasPrefix(v, "DEV"), strings.HasPrefix(v, "DIV"):
		return ControlDivision
	case strings.HasPrefix(v, "ORG"):
		return ControlOrganization
	case strings.HasPrefix(v, "APP"):
		return ControlApplication
	case strings.HasPrefix(v, "SEC"):
		return ControlSection
	}

	if n, err := strconv.Atoi(v); err == nil && n >= int(ControlSection) && n <= int(ControlApplication) {
		return ControlLevel(n)
	}
	return ControlSection
}

// UserRecord is one spreadsheet row describing a user to provision.
type UserRecord struct {
	Row          int          // Source row number
	Name         string       // Display name, also the login user name
	Email        string       // Contact email, duplicate detection key
	Role         string       // Free-text role, canonicalized before lookup
	UserGroup    string       // Free-text user group, canonicalized before lookup
	Section      string       // Optional section
	Division     string       // Division, "ALL" or "ADMINISTRATOR" grants API admin
	ControlLevel ControlLevel // Access scope
}

// Valid reports whether the required name, email and division are present.
func (u UserRecord) Valid() bool {
	return strings.TrimSpace(u.Name) != "" &&
		strings.TrimSpace(u.Email) != "" &&
		strings.TrimSpace(u.Division) != ""
}

// ValidStrict is [UserRecord.Valid] for input layouts that also require a user group.
func (u UserRecord) ValidStrict() bool {
	return u.Valid() && strings.TrimSpace(u.UserGroup) != ""
}

// IsAPIAdmin reports whether the division is one of the reserved administrator divisions.
func (u UserRecord) IsAPIAdmin() bool {
	d := strings.TrimSpace(u.Division)
	return strings.EqualFold(d, DivisionAdministrator) || strings.EqualFold(d, DivisionAll)
}

// NormalizedEmail returns the trimmed, upper-cased email used for lookups.
func (u UserRecord) NormalizedEmail() string {
	return NormalizeKey(u.Email)
}

// NormalizedUserName returns the trimmed, upper-cased user name used as the identity conflict key.
func (u UserRecord) NormalizedUserName() string {
	return NormalizeKey(u.Name)
}

// NormalizeKey trims s and upper-cases it rune by rune.
//
// The mapping is the simple one used by the identity store's writers, so "ß" stays "ß" rather
// than expanding to "SS".
func NormalizeKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// CommonFields are the credential defaults applied to every new identity account of a run.
type CommonFields struct {
	PasswordHash     string
	SecurityStamp    string
	ConcurrencyStamp string
}

// ExistingEmails maps normalized emails to the identity id that already owns them.
type ExistingEmails map[string]uuid.UUID

// Lookup normalizes email and returns the owning identity id, if any.
func (e ExistingEmails) Lookup(email string) (uuid.UUID, bool) {
	id, ok := e[NormalizeKey(email)]
	return id, ok
}

// ReferenceKind identifies one of the named reference tables of the domain store.
type ReferenceKind int

const (
	Division ReferenceKind = iota
	Section
	Role
	UserGroup
)

// ReferenceKinds lists every kind in preload order.
var ReferenceKinds = []ReferenceKind{Division, Section, Role, UserGroup}

func (k ReferenceKind) String() string {
	switch k {
	case Division:
		return "division"
	case Section:
		return "section"
	case Role:
		return "role"
	case UserGroup:
		return "user_group"
	default:
		return ""
	}
}

// Table returns the domain store table backing the kind.
func (k ReferenceKind) Table() string {
	switch k {
	case Division:
		return "Divisions"
	case Section:
		return "Sections"
	case Role:
		return "Roles"
	case UserGroup:
		return "UserGroups"
	default:
		return ""
	}
}

// Reference is a named row of a reference table.
type Reference struct {
	ID   int64
	Name string
}

// Relationship describes a link table and its two foreign key columns.
type Relationship struct {
	Table string
	Left  string
	Right string
}

func (r Relationship) String() string {
	return fmt.Sprintf("%s(%s, %s)", r.Table, r.Left, r.Right)
}

// Link tables written by the pipeline.
var (
	SectionDivisions  = Relationship{Table: "SectionDivisions", Left: "SectionId", Right: "DivisionId"}
	RoleUserGroups    = Relationship{Table: "RoleUserGroups", Left: "RoleId", Right: "UserGroupId"}
	UserDivisions     = Relationship{Table: "UserDivisions", Left: "UserId", Right: "DivisionId"}
	UserAgencies      = Relationship{Table: "UserAgencies", Left: "UserId", Right: "AgencyId"}
	UserSections      = Relationship{Table: "UserSections", Left: "UserId", Right: "SectionId"}
	SubjectUserGroups = Relationship{Table: "SubjectUserGroups", Left: "SubjectId", Right: "UserGroupId"}
)

// Relationships lists every link table.
var Relationships = []Relationship{
	SectionDivisions, RoleUserGroups, UserDivisions, UserAgencies, UserSections, SubjectUserGroups,
}

// DuplicateRecord is a row skipped because its email already exists in the identity store.
type DuplicateRecord struct {
	Row        int
	Email      string
	ExistingID uuid.UUID
	DetectedAt time.Time
}
