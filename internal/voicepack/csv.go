package voicepack

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// csvColumns are the required header fields of the EdgeTX/OpenTX community
// voicepack spreadsheet export.
var csvColumns = []string{"Filename", "Path", "Translation"}

// FromCSV parses the EdgeTX community CSV format (Filename,Path,Translation)
// into a Pack. The CSV carries no metadata or voice selection, so callers
// must fill those in before the pack validates.
func FromCSV(r io.Reader) (*Pack, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("unable to read CSV header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	for _, required := range csvColumns {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("CSV not formatted correctly: missing %q column", required)
		}
	}

	p := &Pack{
		Name:        "Unnamed",
		Packname:    derivePackname("Unnamed"),
		Description: "Imported from CSV",
		Output:      DefaultOptions(),
	}

	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("unable to read CSV row: %w", err)
		}
		filename := strings.TrimSuffix(field(row, cols["Filename"]), ".wav")
		dir := strings.ToLower(field(row, cols["Path"]))
		text := field(row, cols["Translation"])
		if filename == "" {
			continue
		}

		id := filename
		if dir != "" {
			id = dir + "/" + filename
		}
		p.Phrases = append(p.Phrases, Phrase{ID: id, Text: text, Markup: MarkupPlain})
	}
	return p, nil
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
