package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/filters"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/pipeline"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/record"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/internal/spell"
	apperrors "github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/errors"
	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/tracing"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readRecords reads records from args[0], or stdin without arguments. The
// input is a JSON array or one JSON object per line.
func readRecords(stdin io.Reader, args []string) ([]*record.Record, error) {
	in := stdin
	name := "stdin"
	if len(args) > 0 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, apperrors.ExitUsage, "%v", err)
		}
		defer f.Close()
		in, name = f, args[0]
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	records, err := parseRecords(data)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, apperrors.ExitUsage, "%s: %v", name, err)
	}
	return records, nil
}

func parseRecords(data []byte) ([]*record.Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var records []*record.Record
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decoding record array: %w", err)
		}
		out := records[:0]
		for _, r := range records {
			if r != nil {
				out = append(out, r)
			}
		}
		return out, nil
	}
	var records []*record.Record
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		r, err := record.FromJSON(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, r)
	}
	return records, scanner.Err()
}

func learnFile(c *spell.Corrector, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, apperrors.Newf(apperrors.ErrInvalidInput, apperrors.ExitUsage, "%v", err)
	}
	defer f.Close()
	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if text := strings.TrimSpace(scanner.Text()); text != "" {
			c.LearnText(text)
			lines++
		}
	}
	if err := scanner.Err(); err != nil {
		return lines, fmt.Errorf("reading %s: %w", path, err)
	}
	return lines, nil
}

// fixtureArchive stands in for the archive from a record file. Every
// query returns the whole fixture; the pipeline's filters do the rest.
type fixtureArchive struct {
	records []*record.Record
}

func loadFixtureArchive(path string) (*fixtureArchive, error) {
	records, err := readRecords(os.Stdin, []string{path})
	if err != nil {
		return nil, err
	}
	return &fixtureArchive{records: records}, nil
}

func (a *fixtureArchive) Search(ctx context.Context, query string, f filters.QueryFilters) ([]*record.Record, error) {
	_, span := tracing.StartChildSpan(ctx, "fixture-archive")
	defer span.End()
	span.SetAttr("query", query)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.records, nil
}

var _ pipeline.Archive = (*fixtureArchive)(nil)
