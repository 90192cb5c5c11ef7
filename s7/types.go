package s7

import "strings"

// Kind identifies how an item is laid out inside a data block.
type Kind int

const (
	KindBit Kind = iota
	KindByte
	KindInt
	KindWord
	KindDInt
	KindDWord
	KindReal
)

// String returns the item-syntax name of the kind.
func (k Kind) String() string {
	switch k {
	case KindBit:
		return "X"
	case KindByte:
		return "BYTE"
	case KindInt:
		return "INT"
	case KindWord:
		return "WORD"
	case KindDInt:
		return "DINT"
	case KindDWord:
		return "DWORD"
	case KindReal:
		return "REAL"
	default:
		return "?"
	}
}

// Size returns the number of bytes the kind occupies in a data block.
func (k Kind) Size() int {
	switch k {
	case KindBit, KindByte:
		return 1
	case KindInt, KindWord:
		return 2
	case KindDInt, KindDWord, KindReal:
		return 4
	default:
		return 0
	}
}

// kindFromName maps the type token of an item address to a Kind.
func kindFromName(name string) (Kind, bool) {
	switch strings.ToUpper(name) {
	case "X":
		return KindBit, true
	case "B", "BYTE", "CHAR":
		return KindByte, true
	case "INT", "I":
		return KindInt, true
	case "WORD", "W":
		return KindWord, true
	case "DINT", "DI":
		return KindDInt, true
	case "DWORD", "DW":
		return KindDWord, true
	case "REAL", "R":
		return KindReal, true
	default:
		return 0, false
	}
}
