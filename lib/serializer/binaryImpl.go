package serializer

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ValentinKolb/dFrag/lib/message"
	"github.com/ValentinKolb/dFrag/lib/schema"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for size. The format is only readable with the same schema.
func NewBinarySerializer(t *schema.Type) (ISerializer, error) {
	return &binarySerializerImpl{schema: t}, nil
}

// binarySerializerImpl implements ISerializer using a custom binary format.
//
// Layout per kind:
//
//	record  presence flags (1 bit per field, ceil(n/8) bytes), then the present fields in order
//	array   uvarint count, then the elements
//	string  uvarint length, then the utf-8 bytes
//	bytes   uvarint length, then the bytes
//	int     zig-zag varint
//	float   8 byte big-endian IEEE 754
//	bool    1 byte
type binarySerializerImpl struct {
	schema *schema.Type
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.ISerializer)
// --------------------------------------------------------------------------

func (b *binarySerializerImpl) Name() string {
	return "binary"
}

func (b *binarySerializerImpl) Serialize(msg message.Node) ([]byte, error) {
	return appendValue(make([]byte, 0, 64), msg, b.schema)
}

func (b *binarySerializerImpl) Deserialize(data []byte) (message.Node, error) {
	r := &binaryReader{data: data}
	n, err := r.value(b.schema)
	if err != nil {
		return nil, err
	}
	if r.pos != len(data) {
		return nil, fmt.Errorf("%d trailing bytes after message", len(data)-r.pos)
	}
	return n, nil
}

// --------------------------------------------------------------------------
// Writing
// --------------------------------------------------------------------------

func appendValue(buf []byte, n message.Node, t *schema.Type) ([]byte, error) {
	switch t.Kind {
	case schema.KindRecord:
		obj, ok := n.(message.Object)
		if !ok {
			return nil, fmt.Errorf("expected object for record %q, got %T", t.Name, n)
		}

		// Write presence flags
		flagsPos := len(buf)
		buf = append(buf, make([]byte, (len(t.Fields)+7)/8)...)
		for i, f := range t.Fields {
			v, ok := obj[f.Name]
			if !ok || v == nil {
				continue
			}
			buf[flagsPos+i/8] |= 1 << uint(i%8)

			var err error
			if buf, err = appendValue(buf, v, f.Type); err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
		}
		return buf, nil

	case schema.KindArray:
		list, ok := n.(message.List)
		if !ok {
			return nil, fmt.Errorf("expected list, got %T", n)
		}
		buf = binary.AppendUvarint(buf, uint64(len(list)))
		for i, e := range list {
			var err error
			if buf, err = appendValue(buf, e, t.Items); err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
		}
		return buf, nil
	}

	s, ok := n.(message.Scalar)
	if !ok {
		return nil, fmt.Errorf("expected %s scalar, got %T", t.Kind, n)
	}

	switch t.Kind {
	case schema.KindString:
		v, ok := s.Value.(string)
		if !ok {
			return nil, typeError(t.Kind, s.Value)
		}
		buf = binary.AppendUvarint(buf, uint64(len(v)))
		return append(buf, v...), nil
	case schema.KindBytes:
		v, ok := s.Value.([]byte)
		if !ok {
			return nil, typeError(t.Kind, s.Value)
		}
		buf = binary.AppendUvarint(buf, uint64(len(v)))
		return append(buf, v...), nil
	case schema.KindInt:
		v, ok := s.Value.(int64)
		if !ok {
			return nil, typeError(t.Kind, s.Value)
		}
		return binary.AppendVarint(buf, v), nil
	case schema.KindFloat:
		v, ok := s.Value.(float64)
		if !ok {
			return nil, typeError(t.Kind, s.Value)
		}
		return binary.BigEndian.AppendUint64(buf, math.Float64bits(v)), nil
	case schema.KindBool:
		v, ok := s.Value.(bool)
		if !ok {
			return nil, typeError(t.Kind, s.Value)
		}
		if v {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil
	default:
		return nil, fmt.Errorf("unsupported kind %s", t.Kind)
	}
}

func typeError(k schema.Kind, v any) error {
	return fmt.Errorf("expected %s value, got %T", k, v)
}

// --------------------------------------------------------------------------
// Reading
// --------------------------------------------------------------------------

// maxEmptyRecords bounds arrays of records without fields, which take no bytes
const maxEmptyRecords = 1 << 16

// binaryReader is a bounds checked cursor over serialized data
type binaryReader struct {
	data []byte
	pos  int
}

func (r *binaryReader) remaining() int {
	return len(r.data) - r.pos
}

func (r *binaryReader) take(n int) ([]byte, error) {
	if n < 0 || n > r.remaining() {
		return nil, fmt.Errorf("data too short: need %d bytes at offset %d, have %d", n, r.pos, r.remaining())
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *binaryReader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.data[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("invalid uvarint at offset %d", r.pos)
	}
	r.pos += n
	return v, nil
}

func (r *binaryReader) length() (int, error) {
	l, err := r.uvarint()
	if err != nil {
		return 0, err
	}
	if l > uint64(r.remaining()) {
		return 0, fmt.Errorf("length %d exceeds the remaining %d bytes", l, r.remaining())
	}
	return int(l), nil
}

func (r *binaryReader) value(t *schema.Type) (message.Node, error) {
	switch t.Kind {
	case schema.KindRecord:
		flags, err := r.take((len(t.Fields) + 7) / 8)
		if err != nil {
			return nil, err
		}
		obj := make(message.Object)
		for i, f := range t.Fields {
			if flags[i/8]&(1<<uint(i%8)) == 0 {
				continue
			}
			v, err := r.value(f.Type)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			obj[f.Name] = v
		}
		return obj, nil

	case schema.KindArray:
		count, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		// every element but an empty record uses at least one byte
		limit := uint64(r.remaining())
		if t.Items.Kind == schema.KindRecord && len(t.Items.Fields) == 0 {
			limit = maxEmptyRecords
		}
		if count > limit {
			return nil, fmt.Errorf("element count %d exceeds the limit of %d", count, limit)
		}
		list := make(message.List, 0, count)
		for i := uint64(0); i < count; i++ {
			v, err := r.value(t.Items)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			list = append(list, v)
		}
		return list, nil

	case schema.KindString:
		l, err := r.length()
		if err != nil {
			return nil, err
		}
		b, _ := r.take(l)
		return message.String(string(b)), nil

	case schema.KindBytes:
		l, err := r.length()
		if err != nil {
			return nil, err
		}
		b, _ := r.take(l)
		return message.Bytes(append([]byte{}, b...)), nil

	case schema.KindInt:
		v, n := binary.Varint(r.data[r.pos:])
		if n <= 0 {
			return nil, fmt.Errorf("invalid varint at offset %d", r.pos)
		}
		r.pos += n
		return message.Int(v), nil

	case schema.KindFloat:
		b, err := r.take(8)
		if err != nil {
			return nil, err
		}
		return message.Float(math.Float64frombits(binary.BigEndian.Uint64(b))), nil

	case schema.KindBool:
		b, err := r.take(1)
		if err != nil {
			return nil, err
		}
		if b[0] > 1 {
			return nil, fmt.Errorf("invalid bool byte %#x", b[0])
		}
		return message.Bool(b[0] == 1), nil

	default:
		return nil, fmt.Errorf("unsupported kind %s", t.Kind)
	}
}
