package serializer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ValentinKolb/dFrag/lib/message"
	"github.com/ValentinKolb/dFrag/lib/schema"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("serializer")

// ISerializer is the interface for all schema bound message serializers
type ISerializer interface {
	// Name returns the configuration name of the serializer
	Name() string
	// Serialize serializes a message into a byte array
	// It returns the serialized byte array and an error if any
	Serialize(msg message.Node) ([]byte, error)
	// Deserialize deserializes a byte array into a message
	// It returns the message and an error if any
	Deserialize(b []byte) (message.Node, error)
}

// Factory creates a serializer bound to a schema
type Factory func(t *schema.Type) (ISerializer, error)

// factories maps configuration names to serializer constructors
var factories = map[string]Factory{
	"protobuf": NewProtobufSerializer,
	"binary":   NewBinarySerializer,
	"json":     NewJSONSerializer,
}

// New creates the serializer registered under name for schema t. An empty
// name selects "protobuf". The root of t must be a record.
func New(name string, t *schema.Type) (ISerializer, error) {
	if name == "" {
		name = "protobuf"
	}
	factory, ok := factories[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown serializer %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	if t == nil || t.Kind != schema.KindRecord {
		return nil, fmt.Errorf("serializer %s: root schema must be a record", name)
	}
	return factory(t)
}

// Names returns the registered serializer names in sorted order
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
