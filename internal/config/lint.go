package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/policy"
)

// Severity ranks lint findings.
type Severity int

const (
	SeverityNotice Severity = iota + 1
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "notice"
}

// Finding is one questionable rule.
type Finding struct {
	Rule     string
	Severity Severity
	Message  string
}

// broadRule matches rules whose body grants far more than a script
// usually needs.
type broadRule struct {
	kind     policy.Kind
	bodies   []string
	severity Severity
	message  string
}

var broadRules = []broadRule{
	{policy.KindClass, []string{"**", "**:*", "*", "*:*"}, SeverityWarning, "allows every registered class"},
	{policy.KindClasspath, []string{"**", "/**"}, SeverityNotice, "allows every resource"},
	{policy.KindSystemProperty, []string{"**", "*"}, SeverityNotice, "exposes every system property"},
	{policy.KindSystemEnv, []string{"**", "*"}, SeverityWarning, "exposes the entire environment"},
	{policy.KindModule, []string{"**", "*"}, SeverityNotice, "allows loading any module"},
	{policy.KindFileRead, []string{"/**", "**", "/*"}, SeverityWarning, "allows reading any file"},
	{policy.KindFileWrite, []string{"/**", "**", "/*"}, SeverityWarning, "allows writing any file"},
}

// credentialName matches environment variable and property names that
// usually hold secrets.
var credentialName = regexp.MustCompile(`(?i)(api[_-]?key|token|secret|passw(or)?d|pwd|private[_-]?key|credential|aws[_-]?access)`)

// Lint reports rules that are probably broader than intended, rules that
// expose credential-like variables, and duplicates.
func Lint(rules []policy.Rule) []Finding {
	var findings []Finding
	seen := make(map[policy.Rule]bool, len(rules))

	for _, r := range rules {
		if seen[r] {
			findings = append(findings, Finding{Rule: r.String(), Severity: SeverityNotice, Message: "duplicate rule"})
			continue
		}
		seen[r] = true

		for _, br := range broadRules {
			if r.Kind == br.kind && slices.Contains(br.bodies, r.Body) {
				findings = append(findings, Finding{Rule: r.String(), Severity: br.severity, Message: br.message})
			}
		}

		if r.Kind == policy.KindSystemEnv || r.Kind == policy.KindSystemProperty {
			if !strings.Contains(r.Body, "*") && credentialName.MatchString(r.Body) {
				findings = append(findings, Finding{
					Rule:     r.String(),
					Severity: SeverityWarning,
					Message:  "exposes a value that looks like a credential",
				})
			}
		}
	}
	return findings
}

// FormatFindings formats findings into a user-facing report.
func FormatFindings(findings []Finding) string {
	if len(findings) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d questionable rule(s) in policy:\n\n", len(findings)))
	for i, f := range findings {
		sb.WriteString(fmt.Sprintf("%d. [%s] %s\n", i+1, f.Severity, f.Rule))
		sb.WriteString(fmt.Sprintf("   %s\n", f.Message))
	}
	return sb.String()
}
