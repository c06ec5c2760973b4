package core

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportCategory(t *testing.T) {
	s := newTestService(t)
	seedInventory(t, s)
	ctx := context.Background()

	res, err := s.ExportCategory(ctx, "Alpha", "Gateway", ExportOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Alpha_Gateway", res.Table)
	assert.Equal(t, []string{"service_name", "category", "entity_name", "address", "account_name", "port"}, res.Columns)
	assert.Equal(t, [][]string{
		{"Alpha", "Gateway", "gw-dev1", "10.0.0.1", "admin", "22"},
		{"Alpha", "Gateway", "gw-dev2", "10.0.0.2", "admin", "22"},
	}, res.Rows)

	withSecret, err := s.ExportCategory(ctx, "Alpha", "Gateway", ExportOptions{IncludeSecret: true})
	require.NoError(t, err)
	assert.Equal(t, "secret", withSecret.Columns[5])
	assert.Equal(t, "pw", withSecret.Rows[0][5])
}

func TestExportCategory_NullsAreEmpty(t *testing.T) {
	s := newTestService(t)
	seedInventory(t, s)

	res, err := s.ExportCategory(context.Background(), "Beta", "Gateway", ExportOptions{IncludeSecret: true})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, []string{"Beta", "Gateway", "edge-2", "", "root", "", ""}, res.Rows[0])
}

func TestExportCategory_UnknownPair(t *testing.T) {
	s := newTestService(t)
	seedInventory(t, s)

	res, err := s.ExportCategory(context.Background(), "Gamma", "Router", ExportOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
	assert.Equal(t, []string{"service_name", "category", "entity_name", "address", "account_name"}, res.Columns)
}

func TestExportCategory_NoCanonicalTable(t *testing.T) {
	s := newTestService(t)
	_, err := s.ExportCategory(context.Background(), "Alpha", "Gateway", ExportOptions{})
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCSV(&buf, &ExportResult{
		Columns: []string{"service_name", "設置場所"},
		Rows:    [][]string{{"基幹系", "東京, 本社"}},
	})
	require.NoError(t, err)

	out := buf.Bytes()
	require.True(t, bytes.HasPrefix(out, utf8BOM), "export starts with a BOM")

	records, err := csv.NewReader(bytes.NewReader(out[len(utf8BOM):])).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"service_name", "設置場所"}, {"基幹系", "東京, 本社"}}, records)
}

func TestExportRoundTripsThroughIngest(t *testing.T) {
	src := newTestService(t)
	seedInventory(t, src)
	ctx := context.Background()

	exp, err := src.ExportCategory(ctx, "Alpha", "Gateway", ExportOptions{IncludeSecret: true})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, exp))

	dst := newTestService(t)
	res := mustIngest(t, dst, "export.csv", buf.Bytes())
	assert.Equal(t, EncodingUTF8BOM, res.Encoding)
	assert.Equal(t, 2, res.AcceptedCount)

	again, err := dst.ExportCategory(ctx, "Alpha", "Gateway", ExportOptions{IncludeSecret: true})
	require.NoError(t, err)
	assert.Equal(t, exp.Rows, again.Rows)
}
