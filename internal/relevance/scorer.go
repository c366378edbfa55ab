// Package relevance scores archive records against a query. A score blends
// textual relevance, descriptive-field coverage, structural authenticity
// and popularity into a combined value in [0,1], plus a derived trust level
// and an availability inference.
package relevance

import (
	"math"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/record"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/tokenizer"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/config"
)

type TrustLevel string

const (
	TrustHigh   TrustLevel = "high"
	TrustMedium TrustLevel = "medium"
	TrustLow    TrustLevel = "low"
)

type Availability string

const (
	AvailabilityOnline       Availability = "online"
	AvailabilityArchivedOnly Availability = "archived-only"
)

// Keyword component weights. They sum to one so the component never clips.
const (
	titleWeight       = 0.55
	descriptionWeight = 0.2
	subjectWeight     = 0.1
	mediaBoost        = 0.15
)

// Field relevance: coverage of the descriptive fields plus a bonus when the
// whole query phrase appears verbatim.
const (
	coverageWeight = 0.8
	phraseBonus    = 0.2
)

// Authenticity increments.
const (
	thumbnailCredit  = 0.2
	sourceURLCredit  = 0.25
	creatorCredit    = 0.2
	yearCredit       = 0.15
	collectionCredit = 0.2
)

const (
	lowAuthenticity = 0.35
	lowKeyword      = 0.3
	minYear         = 1000
)

var (
	thumbnailFields = []string{"thumbnail", "thumb", "thumbnail_url", "thumbnailUrl", "__ia_thumb_url"}
	sourceURLFields = []string{"original_url", "originalUrl", "source_url", "sourceUrl"}
	linkSourceKeys  = []string{"original", "source", "original_url", "source_url"}
	coverageFields  = []string{"description", "subject", "creator", "collection", "tags", "keywords", "topic", "topics"}
	yearFields      = []string{"year", "date", "publicdate"}
	downloadFields  = []string{"downloads", "downloadCount", "views"}
	mediaTypeFields = []string{"mediatype", "mediaType"}

	yearPattern = regexp.MustCompile(`\b(\d{4})\b`)
)

// impliedMediaTypes maps query words to the archive mediatype they ask for.
var impliedMediaTypes = map[string]string{
	"image": "image", "images": "image", "photo": "image", "photos": "image",
	"picture": "image", "pictures": "image", "photograph": "image", "photographs": "image",
	"video": "movies", "videos": "movies", "film": "movies", "films": "movies",
	"movie": "movies", "movies": "movies", "footage": "movies",
	"audio": "audio", "music": "audio", "song": "audio", "songs": "audio",
	"recording": "audio", "recordings": "audio", "podcast": "audio",
	"book": "texts", "books": "texts", "text": "texts", "texts": "texts", "ebook": "texts",
	"software": "software", "game": "software", "games": "software", "program": "software",
	"data": "data", "dataset": "data", "datasets": "data",
}

var defaultKnownCollections = []string{
	"americana", "gutenberg", "prelinger", "nasa", "library_of_congress",
	"smithsonian", "biodiversity", "etree", "feature_films", "classic_tv",
	"oldtimeradio", "newsandpublicaffairs", "internetarchivebooks", "opensource_audio",
}

// Breakdown holds the component scores of one record.
type Breakdown struct {
	Keyword      float64 `json:"keyword"`
	Semantic     float64 `json:"semantic"`
	Authenticity float64 `json:"authenticity"`
	Popularity   float64 `json:"popularity"`
	Combined     float64 `json:"combinedScore"`
}

// Result is the score of one record against one query.
type Result struct {
	Breakdown    Breakdown    `json:"breakdown"`
	TrustLevel   TrustLevel   `json:"trustLevel"`
	Availability Availability `json:"availability"`
}

// Query is a query prepared once and scored against many records.
type Query struct {
	raw    string
	stems  []string
	phrase string
	media  map[string]struct{}
}

// Scorer is immutable and safe for concurrent use.
type Scorer struct {
	cfg   config.RelevanceConfig
	known map[string]struct{}
	now   func() time.Time
}

// NewScorer builds a Scorer from cfg. Zero weights fall back to the
// defaults as a group; a zero saturation or trust threshold falls back
// individually.
func NewScorer(cfg config.RelevanceConfig) *Scorer {
	if cfg.KeywordWeight == 0 && cfg.SemanticWeight == 0 && cfg.AuthenticityWeight == 0 && cfg.PopularityWeight == 0 {
		cfg.KeywordWeight = 0.45
		cfg.SemanticWeight = 0.2
		cfg.AuthenticityWeight = 0.2
		cfg.PopularityWeight = 0.15
	}
	if cfg.PopularitySaturation <= 1 {
		cfg.PopularitySaturation = 1e6
	}
	if cfg.HighTrust <= 0 {
		cfg.HighTrust = 0.7
	}
	collections := cfg.KnownCollections
	if len(collections) == 0 {
		collections = defaultKnownCollections
	}
	known := make(map[string]struct{}, len(collections))
	for _, c := range collections {
		known[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}
	return &Scorer{cfg: cfg, known: known, now: time.Now}
}

// Prepare tokenises query for repeated scoring.
func Prepare(query string) Query {
	q := Query{raw: query, media: make(map[string]struct{})}
	seen := make(map[string]struct{})
	for _, tok := range tokenizer.Tokenize(query) {
		if _, dup := seen[tok.Term]; dup {
			continue
		}
		seen[tok.Term] = struct{}{}
		q.stems = append(q.stems, tok.Term)
	}
	words := tokenizer.Words(query)
	if len(words) > 1 {
		q.phrase = " " + strings.Join(words, " ") + " "
	}
	for _, w := range words {
		if mt, ok := impliedMediaTypes[w]; ok {
			q.media[mt] = struct{}{}
		}
	}
	return q
}

// Score scores r against query.
func (s *Scorer) Score(r *record.Record, query string) Result {
	return s.ScoreQuery(r, Prepare(query))
}

// ScoreQuery scores r against a prepared query. Missing fields lower the
// affected component toward zero.
func (s *Scorer) ScoreQuery(r *record.Record, q Query) Result {
	b := Breakdown{
		Keyword:      s.keyword(r, q),
		Semantic:     s.semantic(r, q),
		Authenticity: s.authenticity(r),
		Popularity:   s.popularity(r),
	}
	b.Combined = clip(s.cfg.KeywordWeight*b.Keyword +
		s.cfg.SemanticWeight*b.Semantic +
		s.cfg.AuthenticityWeight*b.Authenticity +
		s.cfg.PopularityWeight*b.Popularity)

	res := Result{
		TrustLevel:   s.trust(b),
		Availability: availability(r),
	}
	res.Breakdown = Breakdown{
		Keyword:      round(b.Keyword),
		Semantic:     round(b.Semantic),
		Authenticity: round(b.Authenticity),
		Popularity:   round(b.Popularity),
		Combined:     round(b.Combined),
	}
	return res
}

func (s *Scorer) keyword(r *record.Record, q Query) float64 {
	score := titleWeight*overlap(q, r.Strings("title")) +
		descriptionWeight*overlap(q, r.Strings("description")) +
		subjectWeight*overlap(q, r.Strings("subject"))
	if len(q.media) > 0 {
		for _, f := range mediaTypeFields {
			if _, ok := q.media[strings.ToLower(r.First(f))]; ok {
				score += mediaBoost
				break
			}
		}
	}
	return clip(score)
}

// semantic measures coverage outside the title so that title matches are
// credited once, by the keyword component.
func (s *Scorer) semantic(r *record.Record, q Query) float64 {
	var texts []string
	for _, f := range coverageFields {
		texts = append(texts, r.Strings(f)...)
	}
	texts = append(texts, r.Nested(record.FieldMetadata)...)
	score := coverageWeight * overlap(q, texts)

	if q.phrase != "" {
		for _, f := range []string{"title", "description"} {
			if containsPhrase(r.Strings(f), q.phrase) {
				score += phraseBonus
				break
			}
		}
	}
	return clip(score)
}

func (s *Scorer) authenticity(r *record.Record) float64 {
	score := 0.0
	if anyField(r, thumbnailFields) {
		score += thumbnailCredit
	}
	if sourceURL(r) != "" {
		score += sourceURLCredit
	}
	if r.Has("creator") {
		score += creatorCredit
	}
	if s.plausibleYear(r) {
		score += yearCredit
	}
	for _, c := range r.Strings("collection") {
		if _, ok := s.known[strings.ToLower(c)]; ok {
			score += collectionCredit
			break
		}
	}
	return clip(score)
}

func (s *Scorer) plausibleYear(r *record.Record) bool {
	maxYear := s.now().Year() + 1
	for _, f := range yearFields {
		m := yearPattern.FindStringSubmatch(r.First(f))
		if m == nil {
			continue
		}
		if y, err := strconv.Atoi(m[1]); err == nil && y >= minYear && y <= maxYear {
			return true
		}
	}
	return false
}

func (s *Scorer) popularity(r *record.Record) float64 {
	for _, f := range downloadFields {
		if n, ok := r.Number(f); ok {
			if n <= 0 {
				return 0
			}
			return clip(math.Log1p(n) / math.Log1p(s.cfg.PopularitySaturation))
		}
	}
	return 0
}

func (s *Scorer) trust(b Breakdown) TrustLevel {
	switch {
	case b.Combined >= s.cfg.HighTrust && b.Authenticity >= s.cfg.HighTrust:
		return TrustHigh
	case b.Authenticity < lowAuthenticity && b.Keyword < lowKeyword:
		return TrustLow
	default:
		return TrustMedium
	}
}

// availability is online when the record names an absolute http(s) source
// URL. It is inferred from structure only.
func availability(r *record.Record) Availability {
	if sourceURL(r) != "" {
		return AvailabilityOnline
	}
	return AvailabilityArchivedOnly
}

// sourceURL returns the first absolute http(s) original/source URL of r.
func sourceURL(r *record.Record) string {
	var candidates []string
	for _, f := range sourceURLFields {
		candidates = append(candidates, r.Strings(f)...)
	}
	for _, k := range linkSourceKeys {
		candidates = append(candidates, r.NestedValue(record.FieldLinks, k).Strings()...)
	}
	for _, c := range candidates {
		u, err := url.Parse(c)
		if err != nil || u.Host == "" {
			continue
		}
		if u.Scheme == "http" || u.Scheme == "https" {
			return c
		}
	}
	return ""
}

// Scored pairs a record with its score.
type Scored struct {
	Record *record.Record `json:"record"`
	Result
}

// Rank scores records and orders them by combined score, highest first.
// Equal scores keep their input order.
func (s *Scorer) Rank(records []*record.Record, query string) []Scored {
	q := Prepare(query)
	out := make([]Scored, len(records))
	for i, r := range records {
		out[i] = Scored{Record: r, Result: s.ScoreQuery(r, q)}
	}
	SortByScore(out)
	return out
}

// SortByScore stably orders scored records by combined score, highest first.
func SortByScore(scored []Scored) {
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Breakdown.Combined > scored[j].Breakdown.Combined
	})
}

// overlap is the share of query stems present in texts.
func overlap(q Query, texts []string) float64 {
	if len(q.stems) == 0 || len(texts) == 0 {
		return 0
	}
	stems := tokenizer.StemSet(strings.Join(texts, " "))
	hits := 0
	for _, st := range q.stems {
		if _, ok := stems[st]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(q.stems))
}

func containsPhrase(texts []string, phrase string) bool {
	for _, t := range texts {
		if strings.Contains(" "+strings.Join(tokenizer.Words(t), " ")+" ", phrase) {
			return true
		}
	}
	return false
}

func anyField(r *record.Record, fields []string) bool {
	for _, f := range fields {
		if r.Has(f) {
			return true
		}
	}
	return false
}

func clip(x float64) float64 {
	switch {
	case math.IsNaN(x) || x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}

func round(x float64) float64 {
	return math.Round(x*10000) / 10000
}
