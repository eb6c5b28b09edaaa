package upload

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/folio/internal/common"
	badgerstore "github.com/ternarybob/folio/internal/storage/badger"
	"github.com/ternarybob/folio/internal/models"
	"github.com/ternarybob/folio/internal/services/events"
	"github.com/xuri/excelize/v2"
)

func setupService(t *testing.T) (*Service, context.Context) {
	t.Helper()

	logger := common.GetLogger()
	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	uploads := badgerstore.NewUploadStorage(db, logger)
	eventStore := badgerstore.NewEventStorage(db, logger)
	eventLogger := events.NewLogger(eventStore, nil, logger)

	fsCfg := &common.FilesystemConfig{
		Uploads: filepath.Join(t.TempDir(), "uploads"),
		Sheets:  filepath.Join(t.TempDir(), "sheets"),
	}
	svc, err := NewService(fsCfg, uploads, eventLogger, logger)
	require.NoError(t, err)
	return svc, context.Background()
}

// buildWorkbook creates an in-memory xlsx with the given sheets and rows.
func buildWorkbook(t *testing.T, sheets map[string][][]string) []byte {
	t.Helper()

	wb := excelize.NewFile()
	defer wb.Close()

	first := true
	for name, rows := range sheets {
		if first {
			require.NoError(t, wb.SetSheetName("Sheet1", name))
			first = false
		} else {
			_, err := wb.NewSheet(name)
			require.NoError(t, err)
		}
		for i, row := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			require.NoError(t, err)
			require.NoError(t, wb.SetSheetRow(name, cell, &row))
		}
	}

	var buf bytes.Buffer
	require.NoError(t, wb.Write(&buf))
	return buf.Bytes()
}

func TestSaveUpload_AndSplit(t *testing.T) {
	svc, ctx := setupService(t)

	data := buildWorkbook(t, map[string][][]string{
		"Fund A": {{"Name", "Mkt Value"}, {"Infosys", "100"}},
		"Fund B": {{"Name", "Mkt Value"}, {"HDFC", "200"}},
	})

	record, sheets, err := svc.SaveUpload(ctx, "portfolio.xlsx", bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, models.FileTypeExcel, record.FileType)
	assert.Equal(t, models.ProcessingStatusUploaded, record.Status)
	assert.Len(t, sheets, 2)
	assert.FileExists(t, record.FilePath)

	children, err := svc.SplitWorkbook(ctx, record.FileID)
	require.NoError(t, err)
	require.Len(t, children, 2)

	names := []string{children[0].SheetName, children[1].SheetName}
	assert.ElementsMatch(t, []string{"Fund A", "Fund B"}, names)
	for _, child := range children {
		assert.Equal(t, models.FileTypeSheet, child.FileType)
		assert.Equal(t, record.FileID, child.ParentID)
		assert.FileExists(t, child.FilePath)
	}

	// Splitting again is idempotent.
	again, err := svc.SplitWorkbook(ctx, record.FileID)
	require.NoError(t, err)
	assert.Len(t, again, 2)
}

func TestSaveUpload_RejectsNonExcel(t *testing.T) {
	svc, ctx := setupService(t)

	_, _, err := svc.SaveUpload(ctx, "data.csv", strings.NewReader("a,b\n1,2\n"))
	assert.Error(t, err)
}

func TestSaveUpload_RejectsCorruptWorkbook(t *testing.T) {
	svc, ctx := setupService(t)

	_, _, err := svc.SaveUpload(ctx, "broken.xlsx", strings.NewReader("not a zip"))
	require.Error(t, err)

	// Nothing left behind on disk.
	entries, err := os.ReadDir(svc.config.Uploads)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReadSheetRows(t *testing.T) {
	svc, ctx := setupService(t)

	data := buildWorkbook(t, map[string][][]string{
		"Fund A": {{"Name", "Mkt Value"}, {"Infosys", "100"}},
	})
	record, _, err := svc.SaveUpload(ctx, "one.xlsx", bytes.NewReader(data))
	require.NoError(t, err)

	children, err := svc.SplitWorkbook(ctx, record.FileID)
	require.NoError(t, err)
	require.Len(t, children, 1)

	name, rows, err := ReadSheetRows(children[0].FilePath)
	require.NoError(t, err)
	assert.Equal(t, "Fund A", name)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Infosys", "100"}, rows[1])
}
