package safety

import "strings"

// Severity orders sensitive content: none < mild < violent < explicit.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityMild     Severity = "mild"
	SeverityViolent  Severity = "violent"
	SeverityExplicit Severity = "explicit"
)

// Rank returns the position of s in the severity ordering; unknown values
// rank as none.
func (s Severity) Rank() int {
	switch s {
	case SeverityMild:
		return 1
	case SeverityViolent:
		return 2
	case SeverityExplicit:
		return 3
	default:
		return 0
	}
}

// severityAliases maps category and label names found in keyword
// configuration and upstream records to a severity.
var severityAliases = map[string]Severity{
	"none":         SeverityNone,
	"safe":         SeverityNone,
	"clean":        SeverityNone,
	"mild":         SeverityMild,
	"adult":        SeverityMild,
	"suggestive":   SeverityMild,
	"mature":       SeverityMild,
	"sensitive":    SeverityMild,
	"violent":      SeverityViolent,
	"violence":     SeverityViolent,
	"gore":         SeverityViolent,
	"graphic":      SeverityViolent,
	"disturbing":   SeverityViolent,
	"explicit":     SeverityExplicit,
	"sexual":       SeverityExplicit,
	"porn":         SeverityExplicit,
	"pornographic": SeverityExplicit,
	"nsfw":         SeverityExplicit,
	"xxx":          SeverityExplicit,
}

// ParseSeverity resolves a label or alias, case-insensitively.
func ParseSeverity(label string) (Severity, bool) {
	s, ok := severityAliases[strings.ToLower(strings.TrimSpace(label))]
	return s, ok
}

// Mode is the user-selected visibility policy.
type Mode string

const (
	ModeSafe         Mode = "safe"
	ModeModerate     Mode = "moderate"
	ModeUnrestricted Mode = "unrestricted"
	ModeNSFWOnly     Mode = "nsfw-only"
)

var modeAliases = map[string]Mode{
	"safe":         ModeSafe,
	"strict":       ModeSafe,
	"on":           ModeSafe,
	"moderate":     ModeModerate,
	"medium":       ModeModerate,
	"unrestricted": ModeUnrestricted,
	"off":          ModeUnrestricted,
	"all":          ModeUnrestricted,
	"none":         ModeUnrestricted,
	"nsfw-only":    ModeNSFWOnly,
	"nsfw_only":    ModeNSFWOnly,
	"nsfwonly":     ModeNSFWOnly,
	"nsfw":         ModeNSFWOnly,
	"only":         ModeNSFWOnly,
}

// ParseMode resolves a mode name or alias. Unknown names return ModeSafe and
// false.
func ParseMode(name string) (Mode, bool) {
	if m, ok := modeAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return m, true
	}
	return ModeSafe, false
}

// Hides reports whether mode is one under which records are said to be
// hidden rather than selected.
func (m Mode) Hides() bool {
	return m == ModeSafe || m == ModeModerate
}

// MatchesMode reports whether a record with classification c is visible
// under mode. Moderate admits mild content only; violent and explicit are
// excluded. Unknown modes behave as safe.
func MatchesMode(c Classification, mode Mode) bool {
	switch mode {
	case ModeUnrestricted:
		return true
	case ModeNSFWOnly:
		return c.Flagged
	case ModeModerate:
		return !c.Flagged || c.Severity == SeverityMild
	default:
		return !c.Flagged
	}
}
