package filters

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

// qualifierPattern matches inline qualifiers such as `year:1969` or
// `subject:"space race"`.
var qualifierPattern = regexp.MustCompile(`(?i)(?:^|\s)(mediatype|type|year|before|after|lang|language|collection|subject|by|uploader|trust|availability):(?:"([^"]*)"|(\S+))`)

var yearRangePattern = regexp.MustCompile(`^(\d{4})(?:-|\.\.)(\d{4})$`)

// HeuristicInterpreter lifts inline qualifiers out of a raw query. It
// never fails except on a cancelled context.
type HeuristicInterpreter struct{}

// Interpret implements Interpreter.
func (HeuristicInterpreter) Interpret(ctx context.Context, raw string) (*Interpretation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	in := &Interpretation{Filters: make(map[string]any)}
	var collections, subjects []string

	for _, m := range qualifierPattern.FindAllStringSubmatch(raw, -1) {
		value := m[2]
		if value == "" {
			value = m[3]
		}
		switch strings.ToLower(m[1]) {
		case "mediatype", "type":
			in.Filters[KeyMediaType] = value
		case "year":
			if r := yearRangePattern.FindStringSubmatch(value); r != nil {
				in.Filters[KeyYearFrom] = r[1]
				in.Filters[KeyYearTo] = r[2]
			} else {
				in.Filters[KeyYearFrom] = value
				in.Filters[KeyYearTo] = value
			}
		case "before":
			in.Filters[KeyYearTo] = shiftYear(value, -1)
		case "after":
			in.Filters[KeyYearFrom] = shiftYear(value, 1)
		case "lang", "language":
			in.Filters[KeyLanguage] = value
		case "collection":
			collections = append(collections, value)
		case "subject":
			subjects = append(subjects, value)
		case "by", "uploader":
			in.Filters[KeyUploader] = value
		case "trust":
			in.Filters[KeySourceTrust] = value
		case "availability":
			in.Filters[KeyAvailability] = value
		}
	}
	if len(collections) > 0 {
		in.Filters[KeyCollection] = collections
	}
	if len(subjects) > 0 {
		in.Filters[KeySubject] = subjects
	}

	in.Query = strings.Join(strings.Fields(qualifierPattern.ReplaceAllString(raw, " ")), " ")
	return in, nil
}

// shiftYear turns an exclusive bound into an inclusive one. Values that
// are not years are passed on for the sanitiser to reject.
func shiftYear(value string, delta int) string {
	if !yearPattern.MatchString(value) {
		return value
	}
	y, err := strconv.Atoi(value)
	if err != nil {
		return value
	}
	return strconv.Itoa(y + delta)
}
