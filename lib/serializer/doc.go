// Package serializer turns structured messages into bytes and back. Every
// serializer is bound to a schema: the same schema is needed to read what
// was written.
//
// Key Components:
//
//   - ISerializer: Core interface that all serializer implementations must satisfy.
//
//   - protobufSerializerImpl: Compiles the schema into protobuf descriptors at
//     runtime and uses the protobuf wire format through dynamic messages. This
//     is the default and the format other systems can read given the same
//     message definitions.
//
//   - binarySerializerImpl: Custom schema driven format with presence flags
//     and varints. Usually the smallest output; it also supports nested arrays.
//
//   - jsonSerializerImpl: JSON encoding, useful for debugging. Bytes are
//     written as base64.
//
// Thread Safety:
//
//	All serializer implementations are immutable after creation and safe for
//	concurrent use across multiple goroutines.
//
// Usage:
//
//	s, err := serializer.New("protobuf", schema)
//	data, err := s.Serialize(msg)
//	msg, err = s.Deserialize(data)
package serializer
