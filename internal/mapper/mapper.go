// package mapper canonicalizes free-text reference names before they are looked up or created.
//
// Roles and user groups are matched against small ordered template lists so that spelling
// variants collapse onto one canonical name plus an optional numeric cohort suffix.
package mapper

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

// RoleTemplates are the canonical role names, matched on their last word.
var RoleTemplates = []string{"Data Provider", "Data Approver", "Administrator"}

// UserGroupTemplates are the canonical user group names, matched on their second word.
var UserGroupTemplates = []string{"Data Provider Group", "Data Approver Group", "Admin Group"}

var trailingDigits = regexp.MustCompile(`\d+$`)

// KeywordFunc picks the distinguishing word of a template. An empty result never matches.
type KeywordFunc func(template string) string

// LastWord returns the final space separated word of s.
func LastWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// SecondWord returns the second space separated word of s, or "" when there is none.
func SecondWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

type template struct {
	name    string
	pattern *regexp.Regexp
}

// Matcher maps input names onto the first template whose keyword appears as a whole word.
type Matcher struct {
	templates []template
}

// NewMatcher compiles a [Matcher] for templates, scanned in the given order.
func NewMatcher(templates []string, keyword KeywordFunc) *Matcher {
	m := &Matcher{}
	for _, name := range templates {
		word := keyword(name)
		if word == "" {
			continue
		}
		m.templates = append(m.templates, template{
			name:    name,
			pattern: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`),
		})
	}
	return m
}

// Canonical returns the canonical name for raw.
//
// The trimmed input is used verbatim when no template matches. A trailing run of digits in
// the input is appended to the result after a single space. Blank input is returned unchanged.
func (m *Matcher) Canonical(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return raw
	}

	input := strings.TrimSpace(raw)
	name := input
	for _, t := range m.templates {
		if t.pattern.MatchString(input) {
			name = t.name
			break
		}
	}

	if suffix := trailingDigits.FindString(input); suffix != "" {
		name += " " + suffix
	}
	return name
}

var (
	roles      = NewMatcher(RoleTemplates, LastWord)
	userGroups = NewMatcher(UserGroupTemplates, SecondWord)
)

// MapRole canonicalizes a role name against [RoleTemplates].
func MapRole(raw string) string {
	return roles.Canonical(raw)
}

// MapUserGroup canonicalizes a user group name against [UserGroupTemplates].
func MapUserGroup(raw string) string {
	return userGroups.Canonical(raw)
}

// Key returns the case-folded form of a trimmed name, used to compare reference names.
func Key(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}
