package mapper

import "testing"

func TestMapRole(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Senior Data Provider 3", "Data Provider 3"},
		{"provider", "Data Provider"},
		{"Lead Approver", "Data Approver"},
		{"System Administrator 2", "Administrator 2"},
		{"Custom Auditor", "Custom Auditor"},
		{"  Custom Auditor  ", "Custom Auditor"},
		{"Auditor 12", "Auditor 12 12"},
		{"Providers", "Providers"},
		{"Approver and Provider", "Data Provider"},
		{"", ""},
		{"   ", "   "},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := MapRole(tt.input); got != tt.want {
				t.Errorf("MapRole(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMapUserGroup(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Second Approver Group", "Data Approver Group"},
		{"Provider Group 2", "Data Provider Group 2"},
		{"PROVIDER", "Data Provider Group"},
		{"Reviewers Group", "Admin Group"},
		{"Reviewers", "Reviewers"},
		{"Admins 4", "Admins 4 4"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := MapUserGroup(tt.input); got != tt.want {
				t.Errorf("MapUserGroup(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMatcher(t *testing.T) {
	t.Run("order decides ambiguous input", func(t *testing.T) {
		m := NewMatcher([]string{"Beta Team", "Alpha Team"}, LastWord)
		if got := m.Canonical("team"); got != "Beta Team" {
			t.Errorf("expected first template to win, got %q", got)
		}
	})

	t.Run("templates without a keyword are skipped", func(t *testing.T) {
		m := NewMatcher([]string{"Solo", "Data Approver Group"}, SecondWord)
		if got := m.Canonical("solo approver"); got != "Data Approver Group" {
			t.Errorf("unexpected canonical name %q", got)
		}
	})

	t.Run("keyword is matched literally", func(t *testing.T) {
		m := NewMatcher([]string{"Ops C++"}, LastWord)
		if got := m.Canonical("cpp"); got != "cpp" {
			t.Errorf("expected no match, got %q", got)
		}
	})
}

func TestWords(t *testing.T) {
	if LastWord("Data Provider") != "Provider" {
		t.Error("unexpected last word")
	}
	if LastWord("") != "" {
		t.Error("expected empty last word")
	}
	if SecondWord("Admin Group") != "Group" {
		t.Error("unexpected second word")
	}
	if SecondWord("Admin") != "" {
		t.Error("expected empty second word")
	}
}

func TestKey(t *testing.T) {
	if Key(" Finance ") != Key("FINANCE") {
		t.Error("expected keys to fold case and trim")
	}
	if Key("Finance") == Key("Finances") {
		t.Error("expected distinct names to keep distinct keys")
	}
}
