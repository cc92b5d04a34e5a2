package serializer

import (
	"github.com/ValentinKolb/dFrag/lib/message"
	"github.com/ValentinKolb/dFrag/lib/schema"
)

// NewJSONSerializer creates a new serializer using json encoding
func NewJSONSerializer(t *schema.Type) (ISerializer, error) {
	return &jsonSerializerImpl{schema: t}, nil
}

// jsonSerializerImpl implements the ISerializer interface using json encoding.
// Bytes are written as base64 strings.
type jsonSerializerImpl struct {
	schema *schema.Type
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.ISerializer)
// --------------------------------------------------------------------------

func (j *jsonSerializerImpl) Name() string {
	return "json"
}

func (j *jsonSerializerImpl) Serialize(msg message.Node) ([]byte, error) {
	return message.EncodeJSON(msg)
}

func (j *jsonSerializerImpl) Deserialize(b []byte) (message.Node, error) {
	return message.DecodeJSON(b, j.schema)
}
