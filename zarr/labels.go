package zarr

import (
	"encoding/binary"
	"fmt"

	"github.com/TuSKan/segstats"
)

// decodeLabels converts raw little-endian cells into labels. Signed types
// must not hold negative values.
func decodeLabels(raw []byte, dtype string) ([]segstats.Label, error) {
	name, itemSize, err := ParseDType(dtype)
	if err != nil {
		return nil, err
	}
	if len(raw)%itemSize != 0 {
		return nil, fmt.Errorf("buffer of %d bytes is not a multiple of %s", len(raw), dtype)
	}

	out := make([]segstats.Label, len(raw)/itemSize)
	for i := range out {
		b := raw[i*itemSize : (i+1)*itemSize]
		var v int64
		var u uint64
		signed := false
		switch name {
		case "bool", "uint8":
			u = uint64(b[0])
		case "uint16":
			u = uint64(binary.LittleEndian.Uint16(b))
		case "uint32":
			u = uint64(binary.LittleEndian.Uint32(b))
		case "uint64":
			u = binary.LittleEndian.Uint64(b)
		case "int8":
			v, signed = int64(int8(b[0])), true
		case "int16":
			v, signed = int64(int16(binary.LittleEndian.Uint16(b))), true
		case "int32":
			v, signed = int64(int32(binary.LittleEndian.Uint32(b))), true
		case "int64":
			v, signed = int64(binary.LittleEndian.Uint64(b)), true
		default:
			return nil, fmt.Errorf("dtype %s cannot hold labels", dtype)
		}
		if signed {
			if v < 0 {
				return nil, fmt.Errorf("negative label %d at cell %d", v, i)
			}
			u = uint64(v)
		}
		if u > uint64(^segstats.Label(0)) {
			return nil, fmt.Errorf("label %d at cell %d overflows", u, i)
		}
		out[i] = segstats.Label(u)
	}
	return out, nil
}

// encodeLabels is the inverse of decodeLabels.
func encodeLabels(labels []segstats.Label, dtype string) ([]byte, error) {
	name, itemSize, err := ParseDType(dtype)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(labels)*itemSize)
	for i, l := range labels {
		b := out[i*itemSize : (i+1)*itemSize]
		switch name {
		case "uint8", "int8":
			if (name == "int8" && l > 0x7f) || l > 0xff {
				return nil, fmt.Errorf("label %d does not fit %s", l, dtype)
			}
			b[0] = byte(l)
		case "uint16", "int16":
			if (name == "int16" && l > 0x7fff) || l > 0xffff {
				return nil, fmt.Errorf("label %d does not fit %s", l, dtype)
			}
			binary.LittleEndian.PutUint16(b, uint16(l))
		case "uint32", "int32":
			if name == "int32" && l > 0x7fffffff {
				return nil, fmt.Errorf("label %d does not fit %s", l, dtype)
			}
			binary.LittleEndian.PutUint32(b, l)
		case "uint64", "int64":
			binary.LittleEndian.PutUint64(b, uint64(l))
		default:
			return nil, fmt.Errorf("dtype %s cannot hold labels", dtype)
		}
	}
	return out, nil
}
