package dataset

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
)

type xlsxWorkbook struct {
	Sheets []struct {
		Name    string `xml:"name,attr"`
		SheetID int    `xml:"sheetId,attr"`
		RID     string `xml:"id,attr"`
	} `xml:"sheets>sheet"`
}

type xlsxRelationships struct {
	Rels []struct {
		ID     string `xml:"Id,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

// xlsxText is a shared or inline string: plain <t> or rich-text runs.
type xlsxText struct {
	T    string `xml:"t"`
	Runs []struct {
		T string `xml:"t"`
	} `xml:"r"`
}

func (x xlsxText) String() string {
	if len(x.Runs) == 0 {
		return x.T
	}
	var b strings.Builder
	for _, r := range x.Runs {
		b.WriteString(r.T)
	}
	return b.String()
}

type xlsxSharedStrings struct {
	Items []xlsxText `xml:"si"`
}

type xlsxWorksheet struct {
	Rows []struct {
		Cells []xlsxCell `xml:"c"`
	} `xml:"sheetData>row"`
}

type xlsxCell struct {
	Ref    string   `xml:"r,attr"`
	Type   string   `xml:"t,attr"`
	Value  string   `xml:"v"`
	Inline xlsxText `xml:"is"`
}

// ReadXLSXSheet returns every row of one worksheet as strings. The sheet is
// selected by name (case-insensitive) or, when sheetName is empty, by its
// 1-based sheetId; sheetIndex <= 0 selects the first sheet.
func ReadXLSXSheet(data []byte, sheetName string, sheetIndex int) ([][]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	target, err := sheetEntry(zr, sheetName, sheetIndex)
	if err != nil {
		return nil, err
	}
	var ws xlsxWorksheet
	if ok, err := unmarshalZipFile(zr, target, &ws); err != nil {
		return nil, fmt.Errorf("parse %s: %w", target, err)
	} else if !ok {
		return nil, fmt.Errorf("worksheet %s missing from workbook", target)
	}
	if len(ws.Rows) == 0 {
		return nil, errors.New("worksheet is empty")
	}
	var sst xlsxSharedStrings
	if _, err := unmarshalZipFile(zr, "xl/sharedStrings.xml", &sst); err != nil {
		return nil, fmt.Errorf("parse shared strings: %w", err)
	}

	rows := make([][]string, 0, len(ws.Rows))
	for _, r := range ws.Rows {
		var row []string
		for _, c := range r.Cells {
			col := cellColumn(c.Ref)
			if col < 0 {
				col = len(row)
			}
			for len(row) <= col {
				row = append(row, "")
			}
			row[col] = cellText(c, sst.Items)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// sheetEntry maps a sheet selection to its ZIP entry name through the
// workbook relationships.
func sheetEntry(zr *zip.Reader, sheetName string, sheetIndex int) (string, error) {
	var wb xlsxWorkbook
	if _, err := unmarshalZipFile(zr, "xl/workbook.xml", &wb); err != nil {
		return "", fmt.Errorf("parse workbook: %w", err)
	}
	var rels xlsxRelationships
	if _, err := unmarshalZipFile(zr, "xl/_rels/workbook.xml.rels", &rels); err != nil {
		return "", fmt.Errorf("parse workbook relationships: %w", err)
	}
	entry := func(rid string) string {
		for _, r := range rels.Rels {
			if r.ID == rid && r.Target != "" {
				target := strings.TrimPrefix(r.Target, "/")
				if !strings.HasPrefix(target, "xl/") {
					target = path.Join("xl", target)
				}
				return target
			}
		}
		return ""
	}

	if sheetName != "" {
		names := make([]string, 0, len(wb.Sheets))
		for _, s := range wb.Sheets {
			if strings.EqualFold(s.Name, sheetName) {
				if e := entry(s.RID); e != "" {
					return e, nil
				}
			}
			names = append(names, s.Name)
		}
		return "", fmt.Errorf("sheet %q not found (available: %s)", sheetName, strings.Join(names, ", "))
	}
	if sheetIndex <= 0 {
		sheetIndex = 1
	}
	for _, s := range wb.Sheets {
		if s.SheetID == sheetIndex {
			if e := entry(s.RID); e != "" {
				return e, nil
			}
		}
	}
	return path.Join("xl", "worksheets", fmt.Sprintf("sheet%d.xml", sheetIndex)), nil
}

// unmarshalZipFile decodes the named entry into v. It reports false when the
// entry does not exist.
func unmarshalZipFile(zr *zip.Reader, name string, v any) (bool, error) {
	f, err := zr.Open(name)
	if err != nil {
		return false, nil
	}
	defer f.Close()
	body, err := io.ReadAll(f)
	if err != nil {
		return true, err
	}
	return true, xml.Unmarshal(body, v)
}

func cellText(c xlsxCell, shared []xlsxText) string {
	switch c.Type {
	case "s":
		i, err := strconv.Atoi(strings.TrimSpace(c.Value))
		if err != nil || i < 0 || i >= len(shared) {
			return ""
		}
		return shared[i].String()
	case "inlineStr":
		return c.Inline.String()
	default:
		return c.Value
	}
}

// cellColumn maps "C12" to 2. It returns -1 when ref has no letters.
func cellColumn(ref string) int {
	col := 0
	for _, r := range strings.ToUpper(ref) {
		if r < 'A' || r > 'Z' {
			break
		}
		col = col*26 + int(r-'A'+1)
	}
	return col - 1
}
