// Package filters sanitises the structured filters that accompany a query
// and hosts the boundary to query interpreters. Values that fail validation
// are dropped, never passed through.
package filters

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/record"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/relevance"
)

// Recognised filter keys.
const (
	KeyMediaType    = "mediaType"
	KeyYearFrom     = "yearFrom"
	KeyYearTo       = "yearTo"
	KeyLanguage     = "language"
	KeySourceTrust  = "sourceTrust"
	KeyAvailability = "availability"
	KeyCollection   = "collection"
	KeySubject      = "subject"
	KeyUploader     = "uploader"
)

const (
	MinYear = 1000
	MaxYear = 2100

	maxListItems = 16
)

var mediaTypes = map[string]string{
	"texts": "texts", "text": "texts", "book": "texts", "books": "texts",
	"movies": "movies", "movie": "movies", "video": "movies", "videos": "movies", "film": "movies",
	"audio": "audio", "music": "audio", "sound": "audio",
	"image": "image", "images": "image", "photo": "image", "photos": "image",
	"software": "software", "data": "data", "web": "web",
	"etree": "etree", "collection": "collection",
}

var trustLevels = map[string]string{
	"high":   string(relevance.TrustHigh),
	"medium": string(relevance.TrustMedium),
	"low":    string(relevance.TrustLow),
}

var availabilities = map[string]string{
	"online":        string(relevance.AvailabilityOnline),
	"archived-only": string(relevance.AvailabilityArchivedOnly),
	"archived":      string(relevance.AvailabilityArchivedOnly),
	"archive-only":  string(relevance.AvailabilityArchivedOnly),
	"archived_only": string(relevance.AvailabilityArchivedOnly),
}

var (
	yearPattern       = regexp.MustCompile(`^\d{4}$`)
	languagePattern   = regexp.MustCompile(`^[a-z]{2,32}(-[a-z0-9]{2,8})?$`)
	identifierPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,99}$`)
	subjectPattern    = regexp.MustCompile(`^[a-z0-9][a-z0-9 _'.&-]{0,99}$`)
	uploaderPattern   = regexp.MustCompile(`^[a-z0-9][a-z0-9_.@+-]{0,127}$`)
)

// QueryFilters is the sanitised filter set. Zero values mean "no filter".
type QueryFilters struct {
	MediaType    string   `json:"mediaType,omitempty"`
	YearFrom     int      `json:"yearFrom,omitempty"`
	YearTo       int      `json:"yearTo,omitempty"`
	Language     string   `json:"language,omitempty"`
	SourceTrust  string   `json:"sourceTrust,omitempty"`
	Availability string   `json:"availability,omitempty"`
	Collection   []string `json:"collection,omitempty"`
	Subject      []string `json:"subject,omitempty"`
	Uploader     string   `json:"uploader,omitempty"`
}

// IsEmpty reports whether no filter is set.
func (f QueryFilters) IsEmpty() bool {
	return f.MediaType == "" && f.YearFrom == 0 && f.YearTo == 0 && f.Language == "" &&
		f.SourceTrust == "" && f.Availability == "" && len(f.Collection) == 0 &&
		len(f.Subject) == 0 && f.Uploader == ""
}

// SanitizeQueryFilters validates raw against the recognised keys. Keys are
// matched case-insensitively; unknown keys and invalid values are omitted.
// List-valued keys keep their valid members.
func SanitizeQueryFilters(raw map[string]any) QueryFilters {
	var f QueryFilters
	for key, v := range raw {
		val := record.Extract(v)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "mediatype":
			f.MediaType = pick(val, mediaTypes)
		case "yearfrom":
			f.YearFrom = year(val)
		case "yearto":
			f.YearTo = year(val)
		case "language":
			f.Language = match(val, languagePattern)
		case "sourcetrust":
			f.SourceTrust = pick(val, trustLevels)
		case "availability":
			f.Availability = pick(val, availabilities)
		case "collection":
			f.Collection = matchAll(val, identifierPattern)
		case "subject":
			f.Subject = matchAll(val, subjectPattern)
		case "uploader":
			f.Uploader = match(val, uploaderPattern)
		}
	}
	if f.YearFrom != 0 && f.YearTo != 0 && f.YearFrom > f.YearTo {
		f.YearFrom, f.YearTo = f.YearTo, f.YearFrom
	}
	return f
}

// Map renders the filters back into the raw key space, for archive
// backends and logging.
func (f QueryFilters) Map() map[string]any {
	out := make(map[string]any)
	set := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	set(KeyMediaType, f.MediaType)
	set(KeyLanguage, f.Language)
	set(KeySourceTrust, f.SourceTrust)
	set(KeyAvailability, f.Availability)
	set(KeyUploader, f.Uploader)
	if f.YearFrom != 0 {
		out[KeyYearFrom] = f.YearFrom
	}
	if f.YearTo != 0 {
		out[KeyYearTo] = f.YearTo
	}
	if len(f.Collection) > 0 {
		out[KeyCollection] = append([]string(nil), f.Collection...)
	}
	if len(f.Subject) > 0 {
		out[KeySubject] = append([]string(nil), f.Subject...)
	}
	return out
}

// Admits reports whether a scored record satisfies every filter that is
// set. A filter on a field the record lacks rejects the record.
func (f QueryFilters) Admits(r *record.Record, score relevance.Result) bool {
	if f.MediaType != "" && !containsFold(r.Strings("mediatype"), f.MediaType) {
		return false
	}
	if f.YearFrom != 0 || f.YearTo != 0 {
		y, ok := recordYear(r)
		if !ok || (f.YearFrom != 0 && y < f.YearFrom) || (f.YearTo != 0 && y > f.YearTo) {
			return false
		}
	}
	if f.Language != "" && !containsFold(r.Strings("language"), f.Language) {
		return false
	}
	if f.SourceTrust != "" && string(score.TrustLevel) != f.SourceTrust {
		return false
	}
	if f.Availability != "" && string(score.Availability) != f.Availability {
		return false
	}
	if len(f.Collection) > 0 && !anyFold(r.Strings("collection"), f.Collection) {
		return false
	}
	if len(f.Subject) > 0 && !anyFold(r.Strings("subject"), f.Subject) {
		return false
	}
	if f.Uploader != "" && !containsFold(append(r.Strings("uploader"), r.Strings("creator")...), f.Uploader) {
		return false
	}
	return true
}

// Keys returns the names of the filters that are set, sorted.
func (f QueryFilters) Keys() []string {
	m := f.Map()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func clean(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func pick(v record.Value, allowed map[string]string) string {
	if v.Kind() != record.KindText {
		return ""
	}
	return allowed[clean(v.First())]
}

func match(v record.Value, pattern *regexp.Regexp) string {
	if v.Kind() != record.KindText {
		return ""
	}
	if s := clean(v.First()); pattern.MatchString(s) {
		return s
	}
	return ""
}

func matchAll(v record.Value, pattern *regexp.Regexp) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, item := range v.Strings() {
		s := clean(item)
		if !pattern.MatchString(s) {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
		if len(out) == maxListItems {
			break
		}
	}
	return out
}

func year(v record.Value) int {
	if v.Kind() != record.KindText {
		return 0
	}
	s := strings.TrimSpace(v.First())
	if !yearPattern.MatchString(s) {
		return 0
	}
	y, err := strconv.Atoi(s)
	if err != nil || y < MinYear || y > MaxYear {
		return 0
	}
	return y
}

func recordYear(r *record.Record) (int, bool) {
	for _, field := range []string{"year", "date"} {
		s := r.First(field)
		if len(s) < 4 || !yearPattern.MatchString(s[:4]) {
			continue
		}
		y, err := strconv.Atoi(s[:4])
		if err == nil {
			return y, true
		}
	}
	return 0, false
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), want) {
			return true
		}
	}
	return false
}

func anyFold(values, wants []string) bool {
	for _, w := range wants {
		if containsFold(values, w) {
			return true
		}
	}
	return false
}
