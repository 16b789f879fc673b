// Package export writes extraction results to disk as JSON or XLSX.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// DefaultFileName is the name used when no output path is given.
const DefaultFileName = "extracted_output.json"

const sheet = "Result"

// Row is one leaf value of a result addressed by its path.
type Row struct {
	Path  string
	Value any
}

// Flatten lists the leaves of data sorted by path. Object keys join with
// ".", array elements use "[i]". Empty objects and arrays are leaves.
func Flatten(data map[string]any) []Row {
	var rows []Row
	var walk func(path string, v any)
	walk = func(path string, v any) {
		switch tv := v.(type) {
		case map[string]any:
			if len(tv) == 0 && path != "" {
				rows = append(rows, Row{Path: path, Value: "{}"})
				return
			}
			keys := make([]string, 0, len(tv))
			for k := range tv {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				child := k
				if path != "" {
					child = path + "." + k
				}
				walk(child, tv[k])
			}
		case []any:
			if len(tv) == 0 {
				rows = append(rows, Row{Path: path, Value: "[]"})
				return
			}
			for i, e := range tv {
				walk(path+"["+strconv.Itoa(i)+"]", e)
			}
		default:
			rows = append(rows, Row{Path: path, Value: v})
		}
	}
	walk("", data)
	return rows
}

// JSON renders data as indented JSON.
func JSON(data map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return buf.Bytes(), nil
}

// XLSX returns a workbook with one Path/Value row per leaf of data.
func XLSX(data map[string]any, logger *slog.Logger) ([]byte, error) {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	for i, h := range []string{"Path", "Value"} {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, err
		}
	}
	rows := Flatten(data)
	for i, r := range rows {
		pathCell, _ := excelize.CoordinatesToCellName(1, i+2)
		valueCell, _ := excelize.CoordinatesToCellName(2, i+2)
		if err := f.SetCellValue(sheet, pathCell, r.Path); err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, valueCell, cellValue(r.Value)); err != nil {
			return nil, err
		}
	}
	_ = f.SetColWidth(sheet, "A", "A", 40)
	_ = f.SetColWidth(sheet, "B", "B", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	logger.Debug("export.xlsx.ok", "rows", len(rows), "elapsed_ms", time.Since(start).Milliseconds())
	return buf.Bytes(), nil
}

func cellValue(v any) any {
	switch tv := v.(type) {
	case nil:
		return ""
	case json.Number:
		if i, err := tv.Int64(); err == nil {
			return i
		}
		if f, err := tv.Float64(); err == nil {
			return f
		}
		return tv.String()
	}
	return v
}

// WriteFile writes data to path, as XLSX when the extension is .xlsx and as
// JSON otherwise.
func WriteFile(path string, data map[string]any, logger *slog.Logger) error {
	var (
		out []byte
		err error
	)
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		out, err = XLSX(data, logger)
	} else {
		out, err = JSON(data)
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
