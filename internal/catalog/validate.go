package catalog

import (
	"fmt"
	"sort"
	"strings"

	"boqmatch/internal/config"
)

// Policy holds the rules a version must satisfy before approval.
type Policy struct {
	MinCodes         int
	MaxCodes         int
	RequiredSections []string
	MaxSkipRate      float64
}

// DefaultPolicy mirrors the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{MinCodes: 100, MaxCodes: 200000, MaxSkipRate: 0.02}
}

// PolicyFromConfig builds a Policy from the [catalog] section.
func PolicyFromConfig(cfg config.Catalog) Policy {
	return Policy{
		MinCodes:         cfg.MinCodes,
		MaxCodes:         cfg.MaxCodes,
		RequiredSections: append([]string(nil), cfg.RequiredSections...),
		MaxSkipRate:      cfg.MaxSkipRate,
	}
}

func (p Policy) normalized() Policy {
	if p.MinCodes < 1 {
		p.MinCodes = 1
	}
	if p.MaxCodes < p.MinCodes {
		p.MaxCodes = p.MinCodes
	}
	if p.MaxSkipRate < 0 {
		p.MaxSkipRate = 0
	}
	return p
}

// Rule names used in validation reports.
const (
	RuleCodeCount       = "code_count"
	RuleSectionCoverage = "section_coverage"
	RuleDuplicateCodes  = "duplicate_codes"
	RuleSkipRate        = "skip_rate"
)

// RuleResult is the outcome of one validation rule.
type RuleResult struct {
	Rule   string `json:"rule"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// ValidationReport is persisted on the version row.
type ValidationReport struct {
	Passed          bool         `json:"passed"`
	CodeCount       int          `json:"code_count"`
	SourceRows      int          `json:"source_rows"`
	SkippedRows     int          `json:"skipped_rows"`
	SkipRate        float64      `json:"skip_rate"`
	Sections        []string     `json:"sections"`
	MissingSections []string     `json:"missing_sections,omitempty"`
	DuplicateCodes  []string     `json:"duplicate_codes,omitempty"`
	Rules           []RuleResult `json:"rules"`
}

// prepared is a submission after cleaning: the first occurrence of every
// code, with malformed rows counted as skipped.
type prepared struct {
	codes      []Code
	duplicates []string
	sourceRows int
	skipped    int
}

func prepare(sub Submission) prepared {
	out := prepared{skipped: max(sub.SkippedRows, 0)}
	seen := make(map[string]struct{}, len(sub.Codes))
	dupSeen := map[string]struct{}{}
	for _, raw := range sub.Codes {
		code := Code{
			Code:    strings.TrimSpace(raw.Code),
			Name:    strings.TrimSpace(raw.Name),
			Unit:    strings.TrimSpace(raw.Unit),
			Section: strings.TrimSpace(raw.Section),
		}
		if code.Code == "" || code.Name == "" || code.Section == "" {
			out.skipped++
			continue
		}
		if _, ok := seen[code.Code]; ok {
			if _, reported := dupSeen[code.Code]; !reported {
				dupSeen[code.Code] = struct{}{}
				out.duplicates = append(out.duplicates, code.Code)
			}
			continue
		}
		seen[code.Code] = struct{}{}
		out.codes = append(out.codes, code)
	}
	out.sourceRows = sub.SourceRows
	if minimum := len(sub.Codes) + max(sub.SkippedRows, 0); out.sourceRows < minimum {
		out.sourceRows = minimum
	}
	sort.Strings(out.duplicates)
	return out
}

// validate evaluates every rule against the prepared submission.
func (p Policy) validate(in prepared) ValidationReport {
	p = p.normalized()
	report := ValidationReport{
		CodeCount:      len(in.codes),
		SourceRows:     in.sourceRows,
		SkippedRows:    in.skipped,
		DuplicateCodes: in.duplicates,
	}
	if in.sourceRows > 0 {
		report.SkipRate = float64(in.skipped) / float64(in.sourceRows)
	}

	present := map[string]struct{}{}
	for _, code := range in.codes {
		present[code.Section] = struct{}{}
	}
	for section := range present {
		report.Sections = append(report.Sections, section)
	}
	sort.Strings(report.Sections)
	for _, required := range p.RequiredSections {
		if _, ok := present[required]; !ok {
			report.MissingSections = append(report.MissingSections, required)
		}
	}

	report.Rules = []RuleResult{
		{
			Rule:   RuleCodeCount,
			Passed: report.CodeCount >= p.MinCodes && report.CodeCount <= p.MaxCodes,
			Detail: fmt.Sprintf("%d codes (allowed %d-%d)", report.CodeCount, p.MinCodes, p.MaxCodes),
		},
		{
			Rule:   RuleSectionCoverage,
			Passed: len(report.MissingSections) == 0 && len(report.Sections) > 0,
			Detail: sectionDetail(report),
		},
		{
			Rule:   RuleDuplicateCodes,
			Passed: len(report.DuplicateCodes) == 0,
			Detail: fmt.Sprintf("%d duplicate codes", len(report.DuplicateCodes)),
		},
		{
			Rule:   RuleSkipRate,
			Passed: report.SkipRate <= p.MaxSkipRate,
			Detail: fmt.Sprintf("%.2f%% rows skipped (ceiling %.2f%%)", report.SkipRate*100, p.MaxSkipRate*100),
		},
	}
	report.Passed = true
	for _, rule := range report.Rules {
		if !rule.Passed {
			report.Passed = false
		}
	}
	return report
}

func sectionDetail(report ValidationReport) string {
	if len(report.Sections) == 0 {
		return "no sections present"
	}
	if len(report.MissingSections) == 0 {
		return fmt.Sprintf("%d sections present", len(report.Sections))
	}
	return "missing sections: " + strings.Join(report.MissingSections, ", ")
}

// FailedRules lists the names of rules that did not pass.
func (r ValidationReport) FailedRules() []string {
	var failed []string
	for _, rule := range r.Rules {
		if !rule.Passed {
			failed = append(failed, rule.Rule)
		}
	}
	return failed
}
