// Package safety classifies archive records for sensitive content by
// matching their text fields against curated keyword sets, annotates
// records with the outcome and filters them by a user-selected mode.
package safety

import (
	"log/slog"
	"strings"

	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/record"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/tokenizer"
)

// Annotation fields written onto records.
const (
	FieldNSFW        = "nsfw"
	FieldNSFWLevel   = "nsfwLevel"
	FieldNSFWMatches = "nsfwMatches"

	legacyFieldNSFWLevel = "nsfw_level"
)

// Top-level fields whose text is matched, in collection order. The nested
// metadata and links objects are read as well.
var candidateFields = []string{
	"title", "description", "identifier", "creator", "collection",
	"subject", "tags", "keywords", "topic", "topics",
	"url", "urls", "original_url", "originalUrl", "source_url", "sourceUrl",
}

// Classification is the outcome of matching a record against a KeywordSet.
// Label is the upstream severity label as supplied, empty for keyword
// classifications.
type Classification struct {
	Flagged  bool     `json:"flagged"`
	Severity Severity `json:"severity"`
	Matches  []string `json:"matches"`
	Label    string   `json:"label,omitempty"`
}

func unflagged() Classification {
	return Classification{Severity: SeverityNone, Matches: []string{}}
}

func flagged(sev Severity, matches []string) Classification {
	if sev == SeverityNone {
		return unflagged()
	}
	if matches == nil {
		matches = []string{}
	}
	return Classification{Flagged: true, Severity: sev, Matches: matches}
}

// Classifier is immutable after construction and safe for concurrent use.
type Classifier struct {
	set      *KeywordSet
	explicit []string
	mild     []string
	violent  []string
	allow    []string
	logger   *slog.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClassifier creates a Classifier over set. A nil set flags nothing.
func NewClassifier(set *KeywordSet, opts ...Option) *Classifier {
	if set == nil {
		set = NewKeywordSet(nil, nil, nil)
	}
	c := &Classifier{
		set:      set,
		explicit: padAll(set.explicit),
		mild:     padAll(set.mild),
		violent:  padAll(set.violent),
		allow:    padAll(set.allow),
		logger:   slog.Default().With("component", "safety-classifier"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Classifier) KeywordSet() *KeywordSet {
	return c.set
}

// Classify matches every text-bearing field of r against the keyword set.
// Explicit matches dominate and report explicit plus mild matches; violent
// matches report violent plus mild matches; otherwise any mild match flags
// the record as mild.
func (c *Classifier) Classify(r *record.Record) Classification {
	candidates := c.candidates(r)
	if len(candidates) == 0 {
		return unflagged()
	}
	explicit := matchAll(c.explicit, candidates)
	mild := matchAll(c.mild, candidates)

	var cl Classification
	switch violent := matchAll(c.violent, candidates); {
	case len(explicit) > 0:
		cl = flagged(SeverityExplicit, union(explicit, mild))
	case len(violent) > 0:
		cl = flagged(SeverityViolent, union(violent, mild))
	case len(mild) > 0:
		cl = flagged(SeverityMild, mild)
	default:
		return unflagged()
	}
	c.logger.Debug("record flagged",
		"identifier", r.First("identifier"),
		"severity", cl.Severity,
		"matches", len(cl.Matches),
	)
	return cl
}

// Resolve returns the trusted upstream classification of r when it carries
// a recognised severity label, and the keyword classification otherwise.
func (c *Classifier) Resolve(r *record.Record) Classification {
	if cl, ok := Upstream(r); ok {
		return cl
	}
	return c.Classify(r)
}

// Annotate returns a copy of r carrying the nsfw fields of its resolved
// classification. Unflagged copies have every nsfw field removed.
func (c *Classifier) Annotate(r *record.Record) *record.Record {
	return Apply(r, c.Resolve(r))
}

// Filter annotates records and keeps those visible under mode, preserving
// order.
func (c *Classifier) Filter(records []*record.Record, mode Mode) []*record.Record {
	out := make([]*record.Record, 0, len(records))
	for _, r := range records {
		annotated := c.Annotate(r)
		if MatchesMode(ClassificationOf(annotated), mode) {
			out = append(out, annotated)
		}
	}
	return out
}

// CountHidden counts records that mode hides. Only safe and moderate hide
// anything; the other modes always return 0.
func (c *Classifier) CountHidden(records []*record.Record, mode Mode) int {
	if !mode.Hides() {
		return 0
	}
	hidden := 0
	for _, r := range records {
		if !MatchesMode(c.Resolve(r), mode) {
			hidden++
		}
	}
	return hidden
}

// Upstream reads an externally supplied severity label. Labels that are not
// a known severity are ignored; known ones are kept verbatim in Label.
func Upstream(r *record.Record) (Classification, bool) {
	label := r.First(FieldNSFWLevel)
	if label == "" {
		label = r.First(legacyFieldNSFWLevel)
	}
	if label == "" {
		return Classification{}, false
	}
	sev, ok := ParseSeverity(label)
	if !ok {
		return Classification{}, false
	}
	cl := flagged(sev, r.Strings(FieldNSFWMatches))
	if cl.Flagged {
		cl.Label = label
	}
	return cl, true
}

// ClassificationOf reads the annotation Apply wrote onto r.
func ClassificationOf(r *record.Record) Classification {
	if cl, ok := Upstream(r); ok {
		return cl
	}
	return unflagged()
}

// Apply returns a copy of r annotated with cl. The level written is cl.Label
// when set, the canonical severity otherwise.
func Apply(r *record.Record, cl Classification) *record.Record {
	out := r.Clone()
	out.Delete(legacyFieldNSFWLevel)
	if !cl.Flagged {
		out.Delete(FieldNSFW)
		out.Delete(FieldNSFWLevel)
		out.Delete(FieldNSFWMatches)
		return out
	}
	out.Set(FieldNSFW, true)
	level := string(cl.Severity)
	if cl.Label != "" {
		level = cl.Label
	}
	out.Set(FieldNSFWLevel, level)
	out.Set(FieldNSFWMatches, append([]string{}, cl.Matches...))
	return out
}

func (c *Classifier) candidates(r *record.Record) []string {
	var out []string
	collect := func(texts []string) {
		for _, t := range texts {
			if padded := c.prepare(t); padded != "" {
				out = append(out, padded)
			}
		}
	}
	for _, f := range candidateFields {
		collect(r.Strings(f))
	}
	collect(r.Nested(record.FieldMetadata))
	collect(r.Nested(record.FieldLinks))
	return out
}

// prepare tokenises text into a space-padded token string with allow-listed
// phrases blanked out.
func (c *Classifier) prepare(text string) string {
	words := tokenizer.Words(text)
	if len(words) == 0 {
		return ""
	}
	padded := " " + strings.Join(words, " ") + " "
	for _, a := range c.allow {
		for strings.Contains(padded, a) {
			padded = strings.Replace(padded, a, " ", 1)
		}
	}
	return padded
}

func pad(phrase string) string {
	return " " + phrase + " "
}

func padAll(phrases []string) []string {
	out := make([]string, len(phrases))
	for i, p := range phrases {
		out[i] = pad(p)
	}
	return out
}

// matchAll returns, in keyword order, the phrases found in any candidate.
func matchAll(padded []string, candidates []string) []string {
	var matches []string
	for _, p := range padded {
		for _, cand := range candidates {
			if strings.Contains(cand, p) {
				matches = append(matches, strings.TrimSpace(p))
				break
			}
		}
	}
	return matches
}

func union(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
