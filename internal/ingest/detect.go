package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ledgerline/recon-engine/internal/normalize"
	"github.com/ledgerline/recon-engine/internal/progress"
	"github.com/ledgerline/recon-engine/internal/validation"
)

// File limits per the upload contract.
const (
	MaxFileSize  = 50 << 20
	MaxLines     = 50000
	MaxLineBytes = 100000
)

// previewRows is how many raw rows the metadata stage keeps for the UI.
const previewRows = 10

// previewTTL bounds how long a cached preview stays fetchable.
const previewTTL = time.Hour

// Metadata is the outcome of the detection stage.
type Metadata struct {
	Encoding           string            `json:"encoding"`
	Delimiter          string            `json:"delimiter"`
	HasHeader          bool              `json:"hasHeader"`
	Columns            []ColumnGuess     `json:"columns"`
	MappingSuggestions map[string]string `json:"mappingSuggestions"` // CSV column -> canonical field
	Preview            [][]string        `json:"preview"`
	TotalRows          int               `json:"totalRows"` // data rows, header excluded
}

// ColumnGuess is a per-column type inference.
type ColumnGuess struct {
	Name string `json:"name"` // header cell, or colN when headerless
	Type string `json:"type"` // date / amount / number / text
}

// delimiter candidates, probed in order.
var delimiterCandidates = []rune{',', '\t', '|', ';'}

// headerKeywords mark a first row as a header when two or more appear.
var headerKeywords = []string{"invoice", "vendor", "amount", "date", "number", "total", "tax"}

// DetectMetadata probes encoding, delimiter and header presence, guesses
// column types, suggests a column mapping and extracts the preview.
func DetectMetadata(data []byte) (*Metadata, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file")
	}
	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("file exceeds %d bytes", MaxFileSize)
	}

	text, encoding, err := decode(data)
	if err != nil {
		return nil, err
	}

	lines := splitLines(text)
	if len(lines) == 0 {
		return nil, fmt.Errorf("no usable lines")
	}
	if len(lines) > MaxLines {
		return nil, fmt.Errorf("file exceeds %d lines", MaxLines)
	}
	for i, l := range lines {
		if len(l) > MaxLineBytes {
			return nil, fmt.Errorf("line %d exceeds %d bytes", i+1, MaxLineBytes)
		}
	}

	delim := sniffDelimiter(lines)

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = delim
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no records")
	}

	hasHeader := detectHeader(records)

	meta := &Metadata{
		Encoding:  encoding,
		Delimiter: string(delim),
		HasHeader: hasHeader,
		TotalRows: len(records),
	}

	var header []string
	dataRows := records
	if hasHeader {
		header = records[0]
		dataRows = records[1:]
		meta.TotalRows = len(dataRows)
	}

	width := 0
	for _, r := range records {
		if len(r) > width {
			width = len(r)
		}
	}
	meta.Columns = guessColumns(header, dataRows, width)
	meta.MappingSuggestions = suggestMapping(meta.Columns)

	for i := 0; i < len(records) && i < previewRows; i++ {
		meta.Preview = append(meta.Preview, records[i])
	}
	return meta, nil
}

// ReadRecords parses a file with a known delimiter, decoding the same
// encodings DetectMetadata accepts.
func ReadRecords(data []byte, delimiter string) ([][]string, error) {
	text, _, err := decode(data)
	if err != nil {
		return nil, err
	}
	reader := csv.NewReader(strings.NewReader(text))
	if delimiter != "" {
		reader.Comma = []rune(delimiter)[0]
	}
	reader.FieldsPerRecord = -1
	return reader.ReadAll()
}

// CachePreview stores the detection outcome keyed by batch so the UI
// can fetch it without re-reading the file.
func CachePreview(ctx context.Context, cache progress.Cache, batchID uuid.UUID, meta *Metadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return cache.Set(ctx, previewKey(batchID), string(raw), previewTTL)
}

// LoadPreview fetches a cached detection outcome, or nil when expired.
func LoadPreview(ctx context.Context, cache progress.Cache, batchID uuid.UUID) (*Metadata, error) {
	raw, err := cache.Get(ctx, previewKey(batchID))
	if err != nil || raw == "" {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func previewKey(batchID uuid.UUID) string { return "import_preview:" + batchID.String() }

// decode strips BOMs and converts the supported encodings to UTF-8.
// Without a BOM: valid UTF-8 wins, pure 7-bit is ASCII, anything else
// falls back to a Latin-1 byte mapping (covers ISO-8859-1 and the
// printable range of Windows-1252).
func decode(data []byte) (string, string, error) {
	switch {
	case bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}):
		return string(data[3:]), "utf-8", nil
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}):
		return decodeUTF16(data[2:], false), "utf-16", nil
	case bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		return decodeUTF16(data[2:], true), "utf-16", nil
	}

	if utf8.Valid(data) {
		ascii := true
		for _, b := range data {
			if b >= 0x80 {
				ascii = false
				break
			}
		}
		if ascii {
			return string(data), "ascii", nil
		}
		return string(data), "utf-8", nil
	}

	// Latin-1: every byte maps to the code point of the same value.
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes), "iso-8859-1", nil
}

func decodeUTF16(data []byte, bigEndian bool) string {
	if len(data)%2 == 1 {
		data = data[:len(data)-1]
	}
	u16 := make([]uint16, len(data)/2)
	for i := range u16 {
		if bigEndian {
			u16[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
		} else {
			u16[i] = uint16(data[2*i+1])<<8 | uint16(data[2*i])
		}
	}
	return string(utf16.Decode(u16))
}

func splitLines(text string) []string {
	var lines []string
	for _, l := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// sniffDelimiter picks the candidate splitting the first 10 non-empty
// lines into the most cells, preferring consistent counts.
func sniffDelimiter(lines []string) rune {
	sample := lines
	if len(sample) > 10 {
		sample = sample[:10]
	}

	best := ','
	bestScore := -1
	for _, cand := range delimiterCandidates {
		total := 0
		counts := make(map[int]int)
		for _, l := range sample {
			n := strings.Count(l, string(cand))
			total += n
			counts[n]++
		}
		if total == 0 {
			continue
		}
		// Consistency bonus: all lines agreeing on the split count is a
		// strong signal.
		score := total
		if len(counts) == 1 {
			score *= 2
		}
		if score > bestScore {
			bestScore = score
			best = cand
		}
	}
	return best
}

// detectHeader applies two signals: a mostly non-numeric first row over
// a numeric second row, or known header keywords in the first row.
func detectHeader(records [][]string) bool {
	first := records[0]

	keywordHits := 0
	joined := strings.ToLower(strings.Join(first, " "))
	for _, kw := range headerKeywords {
		if strings.Contains(joined, kw) {
			keywordHits++
		}
	}
	if keywordHits >= 2 {
		return true
	}

	if len(records) < 2 {
		return false
	}
	return numericFraction(first) < 0.5 && numericFraction(records[1]) >= 0.3
}

func numericFraction(cells []string) float64 {
	if len(cells) == 0 {
		return 0
	}
	numeric := 0
	for _, c := range cells {
		if looksNumeric(c) {
			numeric++
		}
	}
	return float64(numeric) / float64(len(cells))
}

func looksNumeric(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case strings.ContainsRune(".,-$€£¥ ()", r):
		default:
			return false
		}
	}
	return digits > 0
}

// guessColumns infers a type per column from up to 20 sample values.
func guessColumns(header []string, rows [][]string, width int) []ColumnGuess {
	guesses := make([]ColumnGuess, width)
	for col := 0; col < width; col++ {
		name := fmt.Sprintf("col%d", col)
		if col < len(header) && strings.TrimSpace(header[col]) != "" {
			name = strings.TrimSpace(header[col])
		}

		dates, amounts, nonEmpty := 0, 0, 0
		for i := 0; i < len(rows) && i < 20; i++ {
			if col >= len(rows[i]) {
				continue
			}
			val := strings.TrimSpace(rows[i][col])
			if val == "" {
				continue
			}
			nonEmpty++
			if _, err := normalize.Date(val); err == nil {
				dates++
			} else if _, err := normalize.Amount(val); err == nil {
				amounts++
			}
		}

		guessed := "text"
		if nonEmpty > 0 {
			switch {
			case dates*2 > nonEmpty:
				guessed = "date"
			case amounts*2 > nonEmpty:
				guessed = "amount"
			}
		}
		guesses[col] = ColumnGuess{Name: name, Type: guessed}
	}
	return guesses
}

// mappingRules are keyword rules applied to header names, first match
// wins per canonical field.
var mappingRules = []struct {
	field    string
	keywords []string
}{
	{validation.FieldInvoiceNumber, []string{"invoice number", "invoice no", "invoice #", "invoice_number", "inv number", "inv no"}},
	{validation.FieldPOReference, []string{"po number", "po reference", "po ref", "purchase order", "po_number"}},
	{validation.FieldDueDate, []string{"due date", "due_date", "payment date"}},
	{validation.FieldInvoiceDate, []string{"invoice date", "invoice_date", "date"}},
	{validation.FieldTaxAmount, []string{"tax", "vat", "gst"}},
	{validation.FieldSubtotal, []string{"subtotal", "sub total", "net amount", "net"}},
	{validation.FieldAmount, []string{"total amount", "amount", "total", "gross"}},
	{validation.FieldVendor, []string{"vendor", "supplier", "payee", "company"}},
	{validation.FieldCurrency, []string{"currency", "ccy"}},
	{validation.FieldDescription, []string{"description", "memo", "details", "line item"}},
	{validation.FieldInvoiceNumber, []string{"invoice", "number", "reference"}},
}

// suggestMapping proposes a CSV column -> canonical field mapping from
// the column names and, for headerless files, the inferred types.
func suggestMapping(columns []ColumnGuess) map[string]string {
	suggestions := make(map[string]string)
	claimed := make(map[string]bool)

	for _, col := range columns {
		lower := strings.ToLower(col.Name)
		for _, rule := range mappingRules {
			if claimed[rule.field] {
				continue
			}
			for _, kw := range rule.keywords {
				if strings.Contains(lower, kw) {
					suggestions[col.Name] = rule.field
					claimed[rule.field] = true
					break
				}
			}
			if _, done := suggestions[col.Name]; done {
				break
			}
		}
	}

	// Headerless fallback: assign by inferred type where unambiguous.
	for _, col := range columns {
		if _, done := suggestions[col.Name]; done {
			continue
		}
		switch {
		case col.Type == "date" && !claimed[validation.FieldInvoiceDate]:
			suggestions[col.Name] = validation.FieldInvoiceDate
			claimed[validation.FieldInvoiceDate] = true
		case col.Type == "amount" && !claimed[validation.FieldAmount]:
			suggestions[col.Name] = validation.FieldAmount
			claimed[validation.FieldAmount] = true
		}
	}
	return suggestions
}
