package persist

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/segfaults/venator/internal/model"
)

// Value tags for the compact binary encoding: 1-byte tag + payload,
// strings/bytes length-prefixed with a varint, per spec.md §6.3.
const (
	tagNull byte = iota
	tagBool
	tagInt64
	tagUInt64
	tagDouble
	tagString
	tagBytes
	tagArray
	tagObject
)

// EncodeValue renders a Value as the tagged binary form persisted in the
// *_attributes tables' value column.
func EncodeValue(v model.Value) []byte {
	switch v.Kind {
	case model.KindNull:
		return []byte{tagNull}
	case model.KindBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		return []byte{tagBool, b}
	case model.KindInt64:
		buf := make([]byte, 9)
		buf[0] = tagInt64
		binary.LittleEndian.PutUint64(buf[1:], uint64(v.Int64))
		return buf
	case model.KindUInt64:
		buf := make([]byte, 9)
		buf[0] = tagUInt64
		binary.LittleEndian.PutUint64(buf[1:], v.UInt64)
		return buf
	case model.KindDouble:
		buf := make([]byte, 9)
		buf[0] = tagDouble
		binary.LittleEndian.PutUint64(buf[1:], math.Float64bits(v.Double))
		return buf
	case model.KindString:
		return encodeLenPrefixed(tagString, []byte(v.Str))
	case model.KindBytes:
		return encodeLenPrefixed(tagBytes, v.Bytes)
	case model.KindArray:
		var out []byte
		out = append(out, tagArray)
		out = appendVarint(out, uint64(len(v.Array)))
		for _, elem := range v.Array {
			encoded := EncodeValue(elem)
			out = appendVarint(out, uint64(len(encoded)))
			out = append(out, encoded...)
		}
		return out
	case model.KindObject:
		var out []byte
		out = append(out, tagObject)
		keys := model.SortedKeys(v.Object)
		out = appendVarint(out, uint64(len(keys)))
		for _, k := range keys {
			out = appendVarint(out, uint64(len(k)))
			out = append(out, k...)
			encoded := EncodeValue(v.Object[k])
			out = appendVarint(out, uint64(len(encoded)))
			out = append(out, encoded...)
		}
		return out
	default:
		return []byte{tagNull}
	}
}

// DecodeValue parses the tagged binary form back into a Value.
func DecodeValue(b []byte) (model.Value, error) {
	v, _, err := decodeValue(b)
	return v, err
}

func decodeValue(b []byte) (model.Value, int, error) {
	if len(b) == 0 {
		return model.Value{}, 0, fmt.Errorf("persist: empty value")
	}
	switch b[0] {
	case tagNull:
		return model.Null(), 1, nil
	case tagBool:
		if len(b) < 2 {
			return model.Value{}, 0, fmt.Errorf("persist: truncated bool value")
		}
		return model.BoolValue(b[1] != 0), 2, nil
	case tagInt64:
		if len(b) < 9 {
			return model.Value{}, 0, fmt.Errorf("persist: truncated int64 value")
		}
		return model.Int64Value(int64(binary.LittleEndian.Uint64(b[1:9]))), 9, nil
	case tagUInt64:
		if len(b) < 9 {
			return model.Value{}, 0, fmt.Errorf("persist: truncated uint64 value")
		}
		return model.UInt64Value(binary.LittleEndian.Uint64(b[1:9])), 9, nil
	case tagDouble:
		if len(b) < 9 {
			return model.Value{}, 0, fmt.Errorf("persist: truncated double value")
		}
		return model.DoubleValue(math.Float64frombits(binary.LittleEndian.Uint64(b[1:9]))), 9, nil
	case tagString:
		s, n, err := decodeLenPrefixed(b[1:])
		if err != nil {
			return model.Value{}, 0, err
		}
		return model.StringValue(string(s)), n + 1, nil
	case tagBytes:
		s, n, err := decodeLenPrefixed(b[1:])
		if err != nil {
			return model.Value{}, 0, err
		}
		return model.BytesValue(s), n + 1, nil
	case tagArray:
		rest := b[1:]
		count, n := readVarint(rest)
		rest = rest[n:]
		total := 1 + n
		arr := make([]model.Value, 0, count)
		for i := uint64(0); i < count; i++ {
			elemLen, m := readVarint(rest)
			rest = rest[m:]
			total += m
			elem, _, err := decodeValue(rest[:elemLen])
			if err != nil {
				return model.Value{}, 0, err
			}
			arr = append(arr, elem)
			rest = rest[elemLen:]
			total += int(elemLen)
		}
		return model.ArrayValue(arr), total, nil
	case tagObject:
		rest := b[1:]
		count, n := readVarint(rest)
		rest = rest[n:]
		total := 1 + n
		obj := make(map[string]model.Value, count)
		for i := uint64(0); i < count; i++ {
			keyLen, m := readVarint(rest)
			rest = rest[m:]
			total += m
			key := string(rest[:keyLen])
			rest = rest[keyLen:]
			total += int(keyLen)

			valLen, m2 := readVarint(rest)
			rest = rest[m2:]
			total += m2
			val, _, err := decodeValue(rest[:valLen])
			if err != nil {
				return model.Value{}, 0, err
			}
			obj[key] = val
			rest = rest[valLen:]
			total += int(valLen)
		}
		return model.ObjectValue(obj), total, nil
	default:
		return model.Value{}, 0, fmt.Errorf("persist: unknown value tag %d", b[0])
	}
}

func encodeLenPrefixed(tag byte, data []byte) []byte {
	out := []byte{tag}
	out = appendVarint(out, uint64(len(data)))
	return append(out, data...)
}

func decodeLenPrefixed(b []byte) ([]byte, int, error) {
	n, m := readVarint(b)
	if m+int(n) > len(b) {
		return nil, 0, fmt.Errorf("persist: truncated length-prefixed value")
	}
	return b[m : m+int(n)], m + int(n), nil
}

func appendVarint(b []byte, v uint64) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	return append(b, buf[:n]...)
}

func readVarint(b []byte) (uint64, int) {
	v, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, 1
	}
	return v, n
}
