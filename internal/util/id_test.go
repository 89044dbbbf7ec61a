package util

import "testing"

func TestSlugify(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Fix login bug", "fix-login-bug"},
		{"My Project", "my-project"},
		{"  spaces  around  ", "spaces-around"},
		{"under_score_name", "under-score-name"},
		{"Special!@#Chars$%^", "specialchars"},
		{"multiple---hyphens", "multiple-hyphens"},
		{"UPPER lower MiXeD", "upper-lower-mixed"},
		{"Café naïve", "caf-nave"},
		{"", ""},
		{"---", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Slugify(tt.input); got != tt.expected {
				t.Errorf("Slugify(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSlugify_Truncates(t *testing.T) {
	long := "this is a very long task title that keeps going well past any reasonable branch name length"
	got := Slugify(long)
	if len(got) > maxSlugLength {
		t.Errorf("slug length %d exceeds %d", len(got), maxSlugLength)
	}
	if got[len(got)-1] == '-' {
		t.Errorf("slug %q ends with hyphen", got)
	}
}

func TestFormatSpecID(t *testing.T) {
	tests := []struct {
		n        int
		title    string
		expected string
	}{
		{1, "Fix login bug", "001-fix-login-bug"},
		{12, "Add API", "012-add-api"},
		{123, "x", "123-x"},
		{1000, "big", "1000-big"},
		{4, "!!!", "004-task"},
	}
	for _, tt := range tests {
		if got := FormatSpecID(tt.n, tt.title); got != tt.expected {
			t.Errorf("FormatSpecID(%d, %q) = %q, want %q", tt.n, tt.title, got, tt.expected)
		}
	}
}

func TestSpecNumber(t *testing.T) {
	tests := []struct {
		id   string
		n    int
		ok   bool
	}{
		{"001-fix-login-bug", 1, true},
		{"042-x", 42, true},
		{"abc-def", 0, false},
		{"007", 0, false},
		{"-lead", 0, false},
	}
	for _, tt := range tests {
		n, ok := SpecNumber(tt.id)
		if n != tt.n || ok != tt.ok {
			t.Errorf("SpecNumber(%q) = %d, %v; want %d, %v", tt.id, n, ok, tt.n, tt.ok)
		}
	}
}
