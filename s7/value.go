package s7

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Decode extracts the value of it from buf, where buf holds the block
// bytes starting at offset base. S7 stores multi-byte values big-endian.
func Decode(it Item, buf []byte, base int) (interface{}, error) {
	start := it.Offset - base
	if start < 0 || start+it.Size() > len(buf) {
		return nil, fmt.Errorf("%s: outside buffer [%d:%d]", it.Key, base, base+len(buf))
	}
	b := buf[start : start+it.Size()]

	switch it.Kind {
	case KindBit:
		return b[0]&(1<<uint(it.Bit)) != 0, nil
	case KindByte:
		return b[0], nil
	case KindInt:
		return int16(binary.BigEndian.Uint16(b)), nil
	case KindWord:
		return binary.BigEndian.Uint16(b), nil
	case KindDInt:
		return int32(binary.BigEndian.Uint32(b)), nil
	case KindDWord:
		return binary.BigEndian.Uint32(b), nil
	case KindReal:
		return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
	default:
		return nil, fmt.Errorf("%s: unsupported kind %d", it.Key, it.Kind)
	}
}

// Encode converts value to the on-wire bytes of a non-bit item.
// Bit items are written with SetBit on the containing byte instead.
func Encode(it Item, value interface{}) ([]byte, error) {
	switch it.Kind {
	case KindByte:
		n, err := toInt64(value)
		if err != nil {
			return nil, err
		}
		return []byte{byte(n)}, nil
	case KindInt, KindWord:
		n, err := toInt64(value)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, uint16(n))
		return buf, nil
	case KindDInt, KindDWord:
		n, err := toInt64(value)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(n))
		return buf, nil
	case KindReal:
		f, err := toFloat64(value)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, math.Float32bits(float32(f)))
		return buf, nil
	default:
		return nil, fmt.Errorf("%s: cannot encode %s item as bytes", it.Key, it.Kind)
	}
}

// SetBit returns b with bit set to v.
func SetBit(b byte, bit int, v bool) byte {
	if v {
		return b | (1 << uint(bit))
	}
	return b &^ (1 << uint(bit))
}

func toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("cannot convert %T to integer", value)
	}
}

func toFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		n, err := toInt64(value)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %T to float", value)
		}
		return float64(n), nil
	}
}
