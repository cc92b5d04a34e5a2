package serializer

import (
	"fmt"

	"github.com/ValentinKolb/dFrag/lib/message"
	"github.com/ValentinKolb/dFrag/lib/schema"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// protoPackage is the package of the generated descriptors
const protoPackage = "dfrag.body"

// NewProtobufSerializer compiles the schema into protobuf descriptors and
// creates a serializer using the protobuf wire format.
//
// Every record becomes a proto2 message, field i of a record gets field
// number i+1. Ints are encoded as sint64, floats as double, arrays as
// repeated fields (packed for numbers). Arrays of arrays cannot be expressed
// and are rejected.
func NewProtobufSerializer(t *schema.Type) (ISerializer, error) {
	c := &protoCompiler{names: make(map[*schema.Type]string)}
	rootName, err := c.record(t)
	if err != nil {
		return nil, fmt.Errorf("protobuf schema: %w", err)
	}

	fd, err := protodesc.NewFile(&descriptorpb.FileDescriptorProto{
		Name:        proto.String("dfrag_body.proto"),
		Package:     proto.String(protoPackage),
		Syntax:      proto.String("proto2"),
		MessageType: c.messages,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("protobuf schema: %w", err)
	}

	s := &protobufSerializerImpl{
		schema:      t,
		descriptors: make(map[*schema.Type]protoreflect.MessageDescriptor, len(c.names)),
	}
	for rt, name := range c.names {
		md := fd.Messages().ByName(protoreflect.Name(name))
		if md == nil {
			return nil, fmt.Errorf("protobuf schema: message %s not found", name)
		}
		s.descriptors[rt] = md
	}
	s.root = s.descriptors[t]
	log.Debugf("compiled schema %q into %d protobuf messages (root %s)", t.Name, len(c.messages), rootName)
	return s, nil
}

// protobufSerializerImpl implements ISerializer on top of dynamic protobuf messages
type protobufSerializerImpl struct {
	schema      *schema.Type
	root        protoreflect.MessageDescriptor
	descriptors map[*schema.Type]protoreflect.MessageDescriptor
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.ISerializer)
// --------------------------------------------------------------------------

func (p *protobufSerializerImpl) Name() string {
	return "protobuf"
}

func (p *protobufSerializerImpl) Serialize(msg message.Node) ([]byte, error) {
	obj, ok := msg.(message.Object)
	if !ok {
		return nil, fmt.Errorf("expected object, got %T", msg)
	}
	m := dynamicpb.NewMessage(p.root)
	if err := p.fill(m, obj, p.schema); err != nil {
		return nil, err
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(m)
}

func (p *protobufSerializerImpl) Deserialize(b []byte) (message.Node, error) {
	m := dynamicpb.NewMessage(p.root)
	if err := proto.Unmarshal(b, m); err != nil {
		return nil, err
	}
	return p.read(m, p.schema)
}

// --------------------------------------------------------------------------
// Schema compilation
// --------------------------------------------------------------------------

// protoCompiler turns record types into message descriptors. Messages are
// named M0, M1, ... in the order they are discovered, fields f1, f2, ...
type protoCompiler struct {
	messages []*descriptorpb.DescriptorProto
	names    map[*schema.Type]string
}

func (c *protoCompiler) record(t *schema.Type) (string, error) {
	if t.Kind != schema.KindRecord {
		return "", fmt.Errorf("expected record, got %s", t.Kind)
	}
	if name, ok := c.names[t]; ok {
		return name, nil
	}

	name := fmt.Sprintf("M%d", len(c.messages))
	dp := &descriptorpb.DescriptorProto{Name: proto.String(name)}
	c.names[t] = name
	c.messages = append(c.messages, dp)

	for i, f := range t.Fields {
		fdp := &descriptorpb.FieldDescriptorProto{
			Name:   proto.String(fmt.Sprintf("f%d", i+1)),
			Number: proto.Int32(int32(i + 1)),
			Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		}

		ft := f.Type
		if ft.Kind == schema.KindArray {
			fdp.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
			ft = ft.Items
			if ft.Kind == schema.KindArray {
				return "", fmt.Errorf("field %q: nested arrays are not supported", f.Name)
			}
			if ft.Kind == schema.KindInt || ft.Kind == schema.KindFloat || ft.Kind == schema.KindBool {
				fdp.Options = &descriptorpb.FieldOptions{Packed: proto.Bool(true)}
			}
		}

		if ft.Kind == schema.KindRecord {
			sub, err := c.record(ft)
			if err != nil {
				return "", fmt.Errorf("field %q: %w", f.Name, err)
			}
			fdp.Type = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum()
			fdp.TypeName = proto.String("." + protoPackage + "." + sub)
		} else {
			pt, err := protoType(ft.Kind)
			if err != nil {
				return "", fmt.Errorf("field %q: %w", f.Name, err)
			}
			fdp.Type = pt.Enum()
		}
		dp.Field = append(dp.Field, fdp)
	}
	return name, nil
}

func protoType(k schema.Kind) (descriptorpb.FieldDescriptorProto_Type, error) {
	switch k {
	case schema.KindString:
		return descriptorpb.FieldDescriptorProto_TYPE_STRING, nil
	case schema.KindBytes:
		return descriptorpb.FieldDescriptorProto_TYPE_BYTES, nil
	case schema.KindInt:
		return descriptorpb.FieldDescriptorProto_TYPE_SINT64, nil
	case schema.KindFloat:
		return descriptorpb.FieldDescriptorProto_TYPE_DOUBLE, nil
	case schema.KindBool:
		return descriptorpb.FieldDescriptorProto_TYPE_BOOL, nil
	default:
		return 0, fmt.Errorf("unsupported kind %s", k)
	}
}

// --------------------------------------------------------------------------
// Message conversion
// --------------------------------------------------------------------------

func (p *protobufSerializerImpl) fill(m protoreflect.Message, obj message.Object, t *schema.Type) error {
	fields := m.Descriptor().Fields()
	for i, f := range t.Fields {
		v, ok := obj[f.Name]
		if !ok || v == nil {
			continue
		}
		fd := fields.ByNumber(protoreflect.FieldNumber(i + 1))

		switch f.Type.Kind {
		case schema.KindArray:
			elems, ok := v.(message.List)
			if !ok {
				return fmt.Errorf("field %q: expected list, got %T", f.Name, v)
			}
			list := m.Mutable(fd).List()
			for j, e := range elems {
				if f.Type.Items.Kind == schema.KindRecord {
					sub, ok := e.(message.Object)
					if !ok {
						return fmt.Errorf("field %q[%d]: expected object, got %T", f.Name, j, e)
					}
					elem := list.NewElement()
					if err := p.fill(elem.Message(), sub, f.Type.Items); err != nil {
						return fmt.Errorf("field %q[%d]: %w", f.Name, j, err)
					}
					list.Append(elem)
					continue
				}
				pv, err := scalarValue(e, f.Type.Items.Kind)
				if err != nil {
					return fmt.Errorf("field %q[%d]: %w", f.Name, j, err)
				}
				list.Append(pv)
			}

		case schema.KindRecord:
			sub, ok := v.(message.Object)
			if !ok {
				return fmt.Errorf("field %q: expected object, got %T", f.Name, v)
			}
			if err := p.fill(m.Mutable(fd).Message(), sub, f.Type); err != nil {
				return fmt.Errorf("field %q: %w", f.Name, err)
			}

		default:
			pv, err := scalarValue(v, f.Type.Kind)
			if err != nil {
				return fmt.Errorf("field %q: %w", f.Name, err)
			}
			m.Set(fd, pv)
		}
	}
	return nil
}

// read converts a protobuf message back into an object. Arrays are always
// present (possibly empty), other fields only if set on the wire.
func (p *protobufSerializerImpl) read(m protoreflect.Message, t *schema.Type) (message.Object, error) {
	fields := m.Descriptor().Fields()
	obj := make(message.Object, len(t.Fields))
	for i, f := range t.Fields {
		fd := fields.ByNumber(protoreflect.FieldNumber(i + 1))

		switch f.Type.Kind {
		case schema.KindArray:
			list := m.Get(fd).List()
			elems := make(message.List, list.Len())
			for j := 0; j < list.Len(); j++ {
				if f.Type.Items.Kind == schema.KindRecord {
					sub, err := p.read(list.Get(j).Message(), f.Type.Items)
					if err != nil {
						return nil, err
					}
					elems[j] = sub
					continue
				}
				elems[j] = scalarNode(list.Get(j), f.Type.Items.Kind)
			}
			obj[f.Name] = elems

		case schema.KindRecord:
			if !m.Has(fd) {
				continue
			}
			sub, err := p.read(m.Get(fd).Message(), f.Type)
			if err != nil {
				return nil, err
			}
			obj[f.Name] = sub

		default:
			if !m.Has(fd) {
				continue
			}
			obj[f.Name] = scalarNode(m.Get(fd), f.Type.Kind)
		}
	}
	return obj, nil
}

func scalarValue(n message.Node, k schema.Kind) (protoreflect.Value, error) {
	s, ok := n.(message.Scalar)
	if !ok {
		return protoreflect.Value{}, fmt.Errorf("expected %s scalar, got %T", k, n)
	}
	switch v := s.Value.(type) {
	case string:
		if k == schema.KindString {
			return protoreflect.ValueOfString(v), nil
		}
	case []byte:
		if k == schema.KindBytes {
			return protoreflect.ValueOfBytes(v), nil
		}
	case int64:
		if k == schema.KindInt {
			return protoreflect.ValueOfInt64(v), nil
		}
	case float64:
		if k == schema.KindFloat {
			return protoreflect.ValueOfFloat64(v), nil
		}
	case bool:
		if k == schema.KindBool {
			return protoreflect.ValueOfBool(v), nil
		}
	}
	return protoreflect.Value{}, typeError(k, s.Value)
}

func scalarNode(v protoreflect.Value, k schema.Kind) message.Node {
	switch k {
	case schema.KindString:
		return message.String(v.String())
	case schema.KindBytes:
		return message.Bytes(append([]byte{}, v.Bytes()...))
	case schema.KindInt:
		return message.Int(v.Int())
	case schema.KindFloat:
		return message.Float(v.Float())
	default:
		return message.Bool(v.Bool())
	}
}
