package sheet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/shakinm/xlsReader/cfb"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"excelanalyst/internal/models"
)

// BIFF record identifiers read directly from the workbook stream.
const (
	recFormula    = 0x0006
	recEOF        = 0x000A
	recBoundSheet = 0x0085
	recMulRK      = 0x00BD
	recString     = 0x0207
	recRK         = 0x027E
	recBOF        = 0x0809

	biff8Version = 0x0600
)

type cellRef struct {
	row, col int
}

var errNoWorkbookStream = errors.New("no workbook stream")

// scanSheetRecords walks the first worksheet substream and returns the
// cells the record decoder leaves out or misreads: cached formula results
// and RK numbers, whose 30-bit integers are signed.
func scanSheetRecords(data []byte) (map[cellRef]models.Cell, error) {
	stream, err := workbookStream(data)
	if err != nil {
		return nil, fmt.Errorf("workbook stream: %w", err)
	}

	biff8 := false
	sheetPos := -1
	walkRecords(stream, 0, func(id uint16, body []byte) bool {
		switch id {
		case recBOF:
			if len(body) >= 2 {
				biff8 = binary.LittleEndian.Uint16(body) == biff8Version
			}
		case recBoundSheet:
			if sheetPos < 0 && len(body) >= 4 {
				sheetPos = int(binary.LittleEndian.Uint32(body))
			}
		case recEOF:
			return false
		}
		return true
	})
	if sheetPos < 0 || sheetPos >= len(stream) {
		return nil, errors.New("workbook has no sheets")
	}

	cells := make(map[cellRef]models.Cell)
	var pending *cellRef
	depth := 0
	walkRecords(stream, sheetPos, func(id uint16, body []byte) bool {
		switch id {
		case recBOF:
			depth++
			return true
		case recEOF:
			depth--
			return depth > 0
		}
		if depth != 1 {
			return true
		}
		switch id {
		case recRK:
			if len(body) >= 10 {
				ref := recordRef(body)
				cells[ref] = models.NumberCell(decodeRK(binary.LittleEndian.Uint32(body[6:])))
			}
		case recMulRK:
			if len(body) >= 6 {
				ref := recordRef(body)
				for i, off := 0, 4; off+6 <= len(body)-2; i, off = i+1, off+6 {
					v := binary.LittleEndian.Uint32(body[off+2:])
					cells[cellRef{row: ref.row, col: ref.col + i}] = models.NumberCell(decodeRK(v))
				}
			}
		case recFormula:
			pending = nil
			if len(body) < 14 {
				return true
			}
			ref := recordRef(body)
			cell, needsString := formulaResult(body[6:14])
			if needsString {
				pending = &ref
				return true
			}
			cells[ref] = cell
		case recString:
			if pending != nil {
				cells[*pending] = formulaString(body, biff8)
				pending = nil
			}
		}
		return true
	})
	return cells, nil
}

func workbookStream(data []byte) ([]byte, error) {
	adaptor, err := cfb.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var book, root *cfb.Directory
	for _, dir := range adaptor.GetDirs() {
		switch dir.Name() {
		case "Workbook", "Book":
			if book == nil {
				book = dir
			}
		case "Root Entry":
			root = dir
		}
	}
	if book == nil || root == nil {
		return nil, errNoWorkbookStream
	}
	r, err := adaptor.OpenObject(book, root)
	if err != nil {
		return nil, err
	}
	stream, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if size := int(book.GetStreamSize()); size < len(stream) {
		stream = stream[:size]
	}
	return stream, nil
}

// walkRecords calls fn for every record from pos until fn returns false or
// the stream runs out.
func walkRecords(stream []byte, pos int, fn func(id uint16, body []byte) bool) {
	for pos+4 <= len(stream) {
		id := binary.LittleEndian.Uint16(stream[pos:])
		n := int(binary.LittleEndian.Uint16(stream[pos+2:]))
		end := pos + 4 + n
		if end > len(stream) {
			return
		}
		if !fn(id, stream[pos+4:end]) {
			return
		}
		pos = end
	}
}

func recordRef(body []byte) cellRef {
	return cellRef{
		row: int(binary.LittleEndian.Uint16(body)),
		col: int(binary.LittleEndian.Uint16(body[2:])),
	}
}

func decodeRK(v uint32) float64 {
	var f float64
	if v&0x02 != 0 {
		f = float64(int32(v) >> 2)
	} else {
		f = math.Float64frombits(uint64(v&0xFFFFFFFC) << 32)
	}
	if v&0x01 != 0 {
		f /= 100
	}
	return f
}

// formulaResult decodes the cached value of a FORMULA record. A string
// result lives in the STRING record that follows.
func formulaResult(num []byte) (models.Cell, bool) {
	if num[6] != 0xFF || num[7] != 0xFF {
		return models.NumberCell(math.Float64frombits(binary.LittleEndian.Uint64(num))), false
	}
	switch num[0] {
	case 0:
		return models.Cell{}, true
	case 1:
		return models.BoolCell(num[2] != 0), false
	case 2:
		return models.StringCell(errorText(num[2])), false
	default:
		return models.EmptyCell(), false
	}
}

func formulaString(body []byte, biff8 bool) models.Cell {
	if len(body) < 2 {
		return models.EmptyCell()
	}
	n := int(binary.LittleEndian.Uint16(body))
	raw := body[2:]
	wide := false
	if biff8 {
		if len(raw) == 0 {
			return models.EmptyCell()
		}
		wide = raw[0]&0x01 != 0
		raw = raw[1:]
	}
	if wide {
		n *= 2
	}
	if n > len(raw) {
		n = len(raw)
	}
	raw = raw[:n]

	var s string
	var err error
	if wide {
		s, err = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().String(string(raw))
	} else {
		s, err = charmap.ISO8859_1.NewDecoder().String(string(raw))
	}
	if err != nil || s == "" {
		return models.EmptyCell()
	}
	return models.StringCell(s)
}

func errorText(code byte) string {
	switch code {
	case 0x00:
		return "#NULL!"
	case 0x07:
		return "#DIV/0!"
	case 0x0F:
		return "#VALUE!"
	case 0x17:
		return "#REF!"
	case 0x1D:
		return "#NAME?"
	case 0x24:
		return "#NUM!"
	case 0x2A:
		return "#N/A"
	default:
		return "#ERR!"
	}
}
