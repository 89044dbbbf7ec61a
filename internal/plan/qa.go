package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pablasso/autobuild/internal/util"
)

// QAVerdict is what the QA report says about the finished work.
type QAVerdict string

const (
	QANone     QAVerdict = "none"
	QAApproved QAVerdict = "approved"
	QARejected QAVerdict = "rejected"
)

var (
	qaRejectedPattern = regexp.MustCompile(`\b(REJECTED|FAILED)\b`)
	qaApprovedPattern = regexp.MustCompile(`\b(APPROVED|PASSED)\b`)
)

// ReadQAReport scans QA_REPORT.md in specDir. A rejection token anywhere in
// the report wins over an approval token.
func ReadQAReport(specDir string) QAVerdict {
	data, err := os.ReadFile(filepath.Join(specDir, QAReportFileName))
	if err != nil {
		return QANone
	}
	return ParseQAReport(string(data))
}

// ParseQAReport classifies report text.
func ParseQAReport(report string) QAVerdict {
	switch {
	case qaRejectedPattern.MatchString(report):
		return QARejected
	case qaApprovedPattern.MatchString(report):
		return QAApproved
	}
	return QANone
}

// WriteQAFixRequest writes the user's rejection feedback for the agent to pick up.
func WriteQAFixRequest(specDir, feedback string, now time.Time) error {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		feedback = "No feedback provided."
	}
	body := fmt.Sprintf("# QA Fix Request\n\nRequested: %s\n\n## Feedback\n\n%s\n",
		now.UTC().Format(time.RFC3339), feedback)
	return util.WriteFileAtomic(filepath.Join(specDir, QAFixRequestFileName), []byte(body))
}
