package s7

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Item is one addressable value inside a data block.
type Item struct {
	Key    string // canonical address, e.g. "DB1,X2.0" or "DB1,REAL32"
	DB     int
	Kind   Kind
	Offset int // byte offset inside the block
	Bit    int // bit number for KindBit, -1 otherwise
}

// Size returns the number of bytes the item spans.
func (it Item) Size() int { return it.Kind.Size() }

// End returns the first byte offset after the item.
func (it Item) End() int { return it.Offset + it.Size() }

var (
	// Comma form used by the panel program: DB1,X0.0 DB1,INT30 DB1,REAL32
	reComma = regexp.MustCompile(`^DB(\d+),([A-Z]+)(\d+)(?:\.(\d+))?$`)

	// Symbolic form: DB1.DBX0.0 DB1.DBB0 DB1.DBW2 DB1.DBD4
	reSymbolic = regexp.MustCompile(`^DB(\d+)\.DB([XBWD])(\d+)(?:\.(\d+))?$`)
)

// ParseItem parses an item address and returns it with a canonical Key.
// Supported formats:
//   - DB1,X0.0    - bit
//   - DB1,B3      - byte (also BYTE3)
//   - DB1,INT30   - signed 16-bit
//   - DB1,WORD4   - unsigned 16-bit
//   - DB1,DINT8   - signed 32-bit
//   - DB1,DWORD8  - unsigned 32-bit
//   - DB1,REAL32  - IEEE 754 float
//   - DB1.DBX0.0, DB1.DBB0, DB1.DBW2, DB1.DBD4 (DBD reads as REAL)
func ParseItem(addr string) (Item, error) {
	raw := addr
	addr = strings.ToUpper(strings.TrimSpace(addr))
	if addr == "" {
		return Item{}, &AddressError{Address: raw, Reason: "empty address"}
	}

	var (
		db, offset int
		kind       Kind
		bitPart    string
	)

	if m := reComma.FindStringSubmatch(addr); m != nil {
		k, ok := kindFromName(m[2])
		if !ok {
			return Item{}, &AddressError{Address: raw, Reason: "unknown type " + m[2]}
		}
		db, _ = strconv.Atoi(m[1])
		offset, _ = strconv.Atoi(m[3])
		kind, bitPart = k, m[4]
	} else if m := reSymbolic.FindStringSubmatch(addr); m != nil {
		db, _ = strconv.Atoi(m[1])
		offset, _ = strconv.Atoi(m[3])
		bitPart = m[4]
		switch m[2] {
		case "X":
			kind = KindBit
		case "B":
			kind = KindByte
		case "W":
			kind = KindWord
		case "D":
			kind = KindReal
		}
	} else {
		return Item{}, &AddressError{Address: raw, Reason: "unrecognised format"}
	}

	if db < 1 {
		return Item{}, &AddressError{Address: raw, Reason: "data block number must be positive"}
	}

	it := Item{DB: db, Kind: kind, Offset: offset, Bit: -1}
	if kind == KindBit {
		if bitPart == "" {
			return Item{}, &AddressError{Address: raw, Reason: "bit address requires a bit number"}
		}
		bit, _ := strconv.Atoi(bitPart)
		if bit > 7 {
			return Item{}, &AddressError{Address: raw, Reason: fmt.Sprintf("bit number must be 0-7, got %d", bit)}
		}
		it.Bit = bit
	} else if bitPart != "" {
		return Item{}, &AddressError{Address: raw, Reason: "bit number only valid for X items"}
	}
	it.Key = it.canonical()
	return it, nil
}

// MustParseItem is like ParseItem but panics on error. Intended for static tables.
func MustParseItem(addr string) Item {
	it, err := ParseItem(addr)
	if err != nil {
		panic(err)
	}
	return it
}

func (it Item) canonical() string {
	if it.Kind == KindBit {
		return fmt.Sprintf("DB%d,X%d.%d", it.DB, it.Offset, it.Bit)
	}
	return fmt.Sprintf("DB%d,%s%d", it.DB, it.Kind, it.Offset)
}

// Span is a contiguous byte range of one data block covering several items.
type Span struct {
	DB     int
	Offset int
	Size   int
	Items  []Item
}

// maxSpan keeps a single block read well under the smallest negotiated PDU.
const maxSpan = 200

// Plan groups items into as few block reads as possible. Items of the same
// block are merged into one span unless the span would exceed maxSpan bytes.
func Plan(items []Item) []Span {
	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].DB != sorted[j].DB {
			return sorted[i].DB < sorted[j].DB
		}
		return sorted[i].Offset < sorted[j].Offset
	})

	var spans []Span
	for _, it := range sorted {
		if n := len(spans); n > 0 {
			cur := &spans[n-1]
			if cur.DB == it.DB && it.End()-cur.Offset <= maxSpan {
				if end := it.End() - cur.Offset; end > cur.Size {
					cur.Size = end
				}
				cur.Items = append(cur.Items, it)
				continue
			}
		}
		spans = append(spans, Span{DB: it.DB, Offset: it.Offset, Size: it.Size(), Items: []Item{it}})
	}
	return spans
}
