package xlsx

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Package is an opened zip-packed spreadsheet: the sheet name -> part path
// mapping (resolved through workbook.xml + its relationships file) and the
// shared-strings table, both needed to resolve a cell's formatted text.
// Nothing here buffers sheet row data — only the small workbook-level parts.
type Package struct {
	zr            *zip.Reader
	sheetOrder    []string          // workbook sheet order
	sheetParts    map[string]string // sheet name -> zip part path
	sharedStrings []string
}

type wbSheet struct {
	Name string `xml:"name,attr"`
	RID  string `xml:"id,attr"`
}

type workbookXML struct {
	Sheets []wbSheet `xml:"sheets>sheet"`
}

type relationship struct {
	ID     string `xml:"Id,attr"`
	Target string `xml:"Target,attr"`
}

type relationshipsXML struct {
	Relationships []relationship `xml:"Relationship"`
}

type sstXML struct {
	Items []siXML `xml:"si"`
}

type siXML struct {
	T  string  `xml:"t"`
	Rs []rXML  `xml:"r"`
}

type rXML struct {
	T string `xml:"t"`
}

// OpenPackage reads workbook.xml, its relationships, and sharedStrings.xml.
// It does not read any worksheet's row data.
func OpenPackage(zr *zip.Reader) (*Package, error) {
	wbBytes, err := readPart(zr, "xl/workbook.xml")
	if err != nil {
		return nil, fmt.Errorf("open workbook.xml: %w", err)
	}
	var wb workbookXML
	if err := xml.Unmarshal(wbBytes, &wb); err != nil {
		return nil, fmt.Errorf("parse workbook.xml: %w", err)
	}

	relBytes, err := readPart(zr, "xl/_rels/workbook.xml.rels")
	if err != nil {
		return nil, fmt.Errorf("open workbook.xml.rels: %w", err)
	}
	var rels relationshipsXML
	if err := xml.Unmarshal(relBytes, &rels); err != nil {
		return nil, fmt.Errorf("parse workbook.xml.rels: %w", err)
	}
	targetByID := make(map[string]string, len(rels.Relationships))
	for _, r := range rels.Relationships {
		targetByID[r.ID] = r.Target
	}

	sheetParts := make(map[string]string, len(wb.Sheets))
	order := make([]string, 0, len(wb.Sheets))
	for _, s := range wb.Sheets {
		target := targetByID[s.RID]
		if target == "" {
			return nil, fmt.Errorf("no relationship target for sheet %q (rId=%s)", s.Name, s.RID)
		}
		sheetParts[s.Name] = normalizePartPath(target)
		order = append(order, s.Name)
	}

	var sharedStrings []string
	if ssBytes, err := readPart(zr, "xl/sharedStrings.xml"); err == nil {
		var sst sstXML
		if err := xml.Unmarshal(ssBytes, &sst); err != nil {
			return nil, fmt.Errorf("parse sharedStrings.xml: %w", err)
		}
		sharedStrings = make([]string, len(sst.Items))
		for i, item := range sst.Items {
			if item.T != "" {
				sharedStrings[i] = item.T
				continue
			}
			var b strings.Builder
			for _, run := range item.Rs {
				b.WriteString(run.T)
			}
			sharedStrings[i] = b.String()
		}
	}

	return &Package{zr: zr, sheetOrder: order, sheetParts: sheetParts, sharedStrings: sharedStrings}, nil
}

// SheetNames returns sheet names in workbook order.
func (p *Package) SheetNames() []string {
	out := make([]string, len(p.sheetOrder))
	copy(out, p.sheetOrder)
	return out
}

// SheetPartsByName exposes the name -> zip part mapping, consumed directly
// by the dimension prevalidator so it never has to re-derive it.
func (p *Package) SheetPartsByName() map[string]string {
	out := make(map[string]string, len(p.sheetParts))
	for k, v := range p.sheetParts {
		out[k] = v
	}
	return out
}

// sharedString resolves a shared-strings table index; out-of-range indices
// resolve to "" rather than panicking on a malformed workbook.
func (p *Package) sharedString(idx int) string {
	if idx < 0 || idx >= len(p.sharedStrings) {
		return ""
	}
	return p.sharedStrings[idx]
}

func (p *Package) openSheet(name string) (io.ReadCloser, error) {
	part, ok := p.sheetParts[name]
	if !ok {
		return nil, fmt.Errorf("unknown sheet %q", name)
	}
	return p.zr.Open(part)
}

func readPart(zr *zip.Reader, name string) ([]byte, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// normalizePartPath resolves a relationship Target (relative to xl/) into
// the full zip entry path.
func normalizePartPath(target string) string {
	target = strings.TrimPrefix(target, "/")
	if strings.HasPrefix(target, "xl/") {
		return target
	}
	return "xl/" + target
}

func colToIndex(col string) int64 {
	var n int64
	for _, c := range col {
		if c < 'A' || c > 'Z' {
			continue
		}
		n = n*26 + int64(c-'A'+1)
	}
	return n
}

func splitCellRef(ref string) (col int64, row int64, err error) {
	i := 0
	for i < len(ref) && ref[i] >= 'A' && ref[i] <= 'Z' {
		i++
	}
	if i == 0 || i == len(ref) {
		return 0, 0, fmt.Errorf("unparseable cell ref %q", ref)
	}
	r, err := strconv.ParseInt(ref[i:], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return colToIndex(ref[:i]), r, nil
}
