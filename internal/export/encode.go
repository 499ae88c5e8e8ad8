// Package export serializes accumulated streams into downloadable artifacts
// and writes finished recordings to the export directory.
package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/banshee-data/weccap/internal/accumulator"
)

// Artifact formats.
const (
	FormatCSV   = "csv"
	FormatJSONL = "jsonl"
)

// EncodeCSV writes one line per record, the timestamp followed by the
// record's fields, comma separated. Lines are joined by "\n" with no header
// and no trailing newline. A record with no fields yields the timestamp alone.
func EncodeCSV(times []float64, records [][]float64) ([]byte, error) {
	if len(times) != len(records) {
		return nil, fmt.Errorf("csv: %d timestamps for %d records", len(times), len(records))
	}
	var buf bytes.Buffer
	for i, rec := range records {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(formatNumber(times[i]))
		for _, v := range rec {
			buf.WriteByte(',')
			buf.WriteString(formatNumber(v))
		}
	}
	return buf.Bytes(), nil
}

// formatNumber writes the shortest decimal that round-trips.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// EncodeJSONL writes exactly two lines: the JSON timestamp array and the
// JSON record array.
func EncodeJSONL[T any](times []float64, records []T) ([]byte, error) {
	if len(times) != len(records) {
		return nil, fmt.Errorf("jsonl: %d timestamps for %d records", len(times), len(records))
	}
	if times == nil {
		times = []float64{}
	}
	if records == nil {
		records = []T{}
	}
	t, err := json.Marshal(times)
	if err != nil {
		return nil, fmt.Errorf("jsonl: timestamps: %w", err)
	}
	r, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("jsonl: records: %w", err)
	}
	out := make([]byte, 0, len(t)+1+len(r))
	out = append(out, t...)
	out = append(out, '\n')
	return append(out, r...), nil
}

// Archive wraps data in a single-entry zip.
func Archive(entryName string, data []byte, modified time.Time) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     entryName,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return nil, fmt.Errorf("zip: create %s: %w", entryName, err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("zip: write %s: %w", entryName, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: close: %w", err)
	}
	return buf.Bytes(), nil
}

// Flatten turns each frame's object points into one flat record
// x0,y0,z0,x1,... Unresolved frames become empty records.
func Flatten(objectPoints [][][3]float64) [][]float64 {
	out := make([][]float64, len(objectPoints))
	for i, pts := range objectPoints {
		rec := make([]float64, 0, 3*len(pts))
		for _, p := range pts {
			rec = append(rec, p[0], p[1], p[2])
		}
		out[i] = rec
	}
	return out
}

// Options selects the artifact encoding.
type Options struct {
	Format  string
	Archive bool
}

// Validate checks the format name.
func (o Options) Validate() error {
	switch o.Format {
	case FormatCSV, FormatJSONL:
		return nil
	}
	return fmt.Errorf("unknown export format %q", o.Format)
}

// BaseName derives the file stem from a session name, replacing spaces with
// underscores.
func BaseName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "export"
	}
	return strings.ReplaceAll(name, " ", "_")
}

// FileName returns the artifact name for a session: name.csv, name.jsonl or
// name.zip.
func (o Options) FileName(name string) string {
	if o.Archive {
		return BaseName(name) + ".zip"
	}
	return o.entryName(name)
}

func (o Options) entryName(name string) string {
	return BaseName(name) + "." + o.Format
}

// Artifact is an encoded stream ready to be written or downloaded.
type Artifact struct {
	FileName string
	Format   string
	Records  int
	Data     []byte
}

// ContentType returns the MIME type of the artifact.
func (a Artifact) ContentType() string {
	switch {
	case strings.HasSuffix(a.FileName, ".zip"):
		return "application/zip"
	case a.Format == FormatCSV:
		return "text/csv"
	}
	return "application/x-ndjson"
}

// Encode serializes the timestamps and object points of s under name.
func Encode(o Options, name string, s accumulator.Stream, modified time.Time) (Artifact, error) {
	if err := o.Validate(); err != nil {
		return Artifact{}, err
	}

	var (
		data []byte
		err  error
	)
	switch o.Format {
	case FormatCSV:
		data, err = EncodeCSV(s.Times, Flatten(s.ObjectPoints))
	case FormatJSONL:
		data, err = EncodeJSONL(s.Times, s.ObjectPoints)
	}
	if err != nil {
		return Artifact{}, err
	}

	if o.Archive {
		data, err = Archive(o.entryName(name), data, modified)
		if err != nil {
			return Artifact{}, err
		}
	}
	return Artifact{FileName: o.FileName(name), Format: o.Format, Records: s.Len(), Data: data}, nil
}

// ErrMalformedJSONL is returned by DecodeJSONL for input that is not a
// two-line timestamps/records document.
var ErrMalformedJSONL = errors.New("malformed jsonl export")

// DecodeJSONL reads an artifact written with FormatJSONL back into its
// timestamps and object points. Zipped artifacts are unwrapped first.
func DecodeJSONL(data []byte) ([]float64, [][][3]float64, error) {
	if bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		var err error
		if data, err = unarchive(data); err != nil {
			return nil, nil, err
		}
	}
	first, rest, ok := bytes.Cut(bytes.TrimSpace(data), []byte("\n"))
	if !ok {
		return nil, nil, fmt.Errorf("%w: want 2 lines", ErrMalformedJSONL)
	}
	var times []float64
	if err := json.Unmarshal(first, &times); err != nil {
		return nil, nil, fmt.Errorf("%w: timestamps: %v", ErrMalformedJSONL, err)
	}
	var records [][][3]float64
	if err := json.Unmarshal(rest, &records); err != nil {
		return nil, nil, fmt.Errorf("%w: records: %v", ErrMalformedJSONL, err)
	}
	if len(times) != len(records) {
		return nil, nil, fmt.Errorf("%w: %d timestamps for %d records", ErrMalformedJSONL, len(times), len(records))
	}
	return times, records, nil
}

func unarchive(data []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("zip: open: %w", err)
	}
	if len(zr.File) != 1 {
		return nil, fmt.Errorf("%w: archive holds %d entries", ErrMalformedJSONL, len(zr.File))
	}
	rc, err := zr.File[0].Open()
	if err != nil {
		return nil, fmt.Errorf("zip: open %s: %w", zr.File[0].Name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
