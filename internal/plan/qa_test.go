package plan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseQAReport(t *testing.T) {
	tests := []struct {
		name   string
		report string
		want   QAVerdict
	}{
		{"approved", "# QA\nStatus: APPROVED", QAApproved},
		{"passed", "All checks PASSED.", QAApproved},
		{"rejected", "Verdict: REJECTED", QARejected},
		{"failed", "2 tests FAILED", QARejected},
		{"rejection beats approval", "Unit tests PASSED\nIntegration FAILED", QARejected},
		{"lowercase ignored", "approved by reviewer", QANone},
		{"token must be a word", "UNAPPROVEDX", QANone},
		{"empty", "", QANone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseQAReport(tt.report); got != tt.want {
				t.Errorf("ParseQAReport(%q) = %q, want %q", tt.report, got, tt.want)
			}
		})
	}
}

func TestReadQAReport(t *testing.T) {
	dir := t.TempDir()
	if got := ReadQAReport(dir); got != QANone {
		t.Errorf("missing report = %q, want none", got)
	}
	os.WriteFile(filepath.Join(dir, QAReportFileName), []byte("APPROVED"), 0644)
	if got := ReadQAReport(dir); got != QAApproved {
		t.Errorf("got %q, want approved", got)
	}
}

func TestWriteQAFixRequest(t *testing.T) {
	dir := t.TempDir()
	if err := WriteQAFixRequest(dir, "  handle the nil case  ", testNow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, QAFixRequestFileName))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "handle the nil case\n") {
		t.Errorf("feedback missing: %s", data)
	}
}
