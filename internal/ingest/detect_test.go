package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `Invoice Number,Vendor Name,Total Amount,Invoice Date,Currency
INV-100,Acme Supplies Inc,1250.00,2025-05-10,USD
INV-101,Globex Corp,940.50,2025-05-11,USD
INV-102,Initech LLC,312.75,2025-05-12,EUR
`

func TestDetectMetadata_CommaWithHeader(t *testing.T) {
	meta, err := DetectMetadata([]byte(sampleCSV))
	require.NoError(t, err)

	assert.Equal(t, "ascii", meta.Encoding)
	assert.Equal(t, ",", meta.Delimiter)
	assert.True(t, meta.HasHeader)
	assert.Equal(t, 3, meta.TotalRows)
	require.Len(t, meta.Columns, 5)
	assert.Equal(t, "Invoice Number", meta.Columns[0].Name)
	assert.Equal(t, "amount", meta.Columns[2].Type)
	assert.Equal(t, "date", meta.Columns[3].Type)

	assert.Equal(t, "invoice_number", meta.MappingSuggestions["Invoice Number"])
	assert.Equal(t, "vendor", meta.MappingSuggestions["Vendor Name"])
	assert.Equal(t, "amount", meta.MappingSuggestions["Total Amount"])
	assert.Equal(t, "invoice_date", meta.MappingSuggestions["Invoice Date"])
	assert.Equal(t, "currency", meta.MappingSuggestions["Currency"])

	// Preview includes the header row.
	require.NotEmpty(t, meta.Preview)
	assert.Equal(t, "Invoice Number", meta.Preview[0][0])
}

func TestDetectMetadata_SemicolonDelimiter(t *testing.T) {
	data := "invoice;vendor;amount\nINV-1;Acme;100.00\nINV-2;Globex;200.00\n"
	meta, err := DetectMetadata([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, ";", meta.Delimiter)
	assert.True(t, meta.HasHeader)
}

func TestDetectMetadata_HeaderlessNumericFirstRow(t *testing.T) {
	data := "INV-1001,55.20,2025-01-15\nINV-1002,99.00,2025-01-16\n"
	meta, err := DetectMetadata([]byte(data))
	require.NoError(t, err)
	assert.False(t, meta.HasHeader)
	assert.Equal(t, 2, meta.TotalRows)
	assert.Equal(t, "col0", meta.Columns[0].Name)

	// Type-based fallback still proposes the essential fields.
	assert.Equal(t, "invoice_date", meta.MappingSuggestions["col2"])
	assert.Equal(t, "amount", meta.MappingSuggestions["col1"])
}

func TestDetectMetadata_UTF8BOMStripped(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte(sampleCSV)...)
	meta, err := DetectMetadata(data)
	require.NoError(t, err)
	assert.Equal(t, "utf-8", meta.Encoding)
	assert.Equal(t, "Invoice Number", meta.Columns[0].Name)
}

func TestDetectMetadata_Latin1Fallback(t *testing.T) {
	// 0xE9 is é in ISO-8859-1 and invalid as standalone UTF-8.
	data := []byte("vendor,amount\nCaf\xe9 du Nord,12.50\n")
	meta, err := DetectMetadata(data)
	require.NoError(t, err)
	assert.Equal(t, "iso-8859-1", meta.Encoding)
	assert.Equal(t, "Café du Nord", meta.Preview[1][0])
}

func TestDetectMetadata_RejectsEmptyAndOversized(t *testing.T) {
	_, err := DetectMetadata(nil)
	assert.Error(t, err)

	long := strings.Repeat("x", MaxLineBytes+1)
	_, err = DetectMetadata([]byte("a,b\n" + long + ",1\n"))
	assert.Error(t, err)
}

func TestPreviewCacheRoundTrip(t *testing.T) {
	cache := newMemCache()
	ctx := context.Background()
	batchID := uuid.New()

	meta, err := DetectMetadata([]byte(sampleCSV))
	require.NoError(t, err)
	require.NoError(t, CachePreview(ctx, cache, batchID, meta))

	got, err := LoadPreview(ctx, cache, batchID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, meta.Delimiter, got.Delimiter)
	assert.Equal(t, meta.MappingSuggestions, got.MappingSuggestions)

	missing, err := LoadPreview(ctx, cache, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}
