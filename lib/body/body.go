package body

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/dFrag/lib/common"
	"github.com/ValentinKolb/dFrag/lib/compress"
	"github.com/ValentinKolb/dFrag/lib/message"
	"github.com/ValentinKolb/dFrag/lib/schema"
	"github.com/ValentinKolb/dFrag/lib/serializer"
	"github.com/ValentinKolb/dFrag/lib/transform"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("body")

// Config describes the body pipeline of one protocol version.
type Config struct {
	Schema      *schema.Type        // schema of the application message
	DateFields  []string            // paths of date fields
	TextFields  []string            // paths of text fields
	Serializer  string              // name of the serializer (see serializer.Names)
	Compression string              // name of the compression (see compress.Names)
	Tokenizer   transform.Tokenizer // required if TextFields is not empty
}

// Codec turns a message into the bytes carried by the fragments and back:
//
//	encode: transform.Forward -> serializer (transformed schema) -> compression
//	decode: decompression -> deserializer (transformed schema) -> transform.Backward
//
// Thread-safety: A Codec is immutable and safe for concurrent use.
type Codec struct {
	original    *schema.Type
	transformed *schema.Type
	transformer *transform.Transformer
	serializer  serializer.ISerializer
	compressor  compress.ICompressor
}

// NewCodec validates the configuration and builds the pipeline. Unknown
// field paths fail with common.ErrSchemaFieldNotFound, everything else with
// common.ErrInvalidConfig.
func NewCodec(conf Config) (*Codec, error) {
	if conf.Schema == nil {
		return nil, common.NewError(common.CodeInvalidConfig, "body: missing schema")
	}

	dates, err := schema.ParsePaths(conf.DateFields)
	if err != nil {
		return nil, common.WrapError(common.CodeInvalidConfig, err, "body: date fields")
	}
	texts, err := schema.ParsePaths(conf.TextFields)
	if err != nil {
		return nil, common.WrapError(common.CodeInvalidConfig, err, "body: text fields")
	}

	transformed, err := schema.DeriveTransformed(conf.Schema, dates, texts)
	if err != nil {
		return nil, err
	}

	transformer, err := transform.New(dates, texts, conf.Tokenizer)
	if err != nil {
		return nil, common.WrapError(common.CodeInvalidConfig, err, "body: transformer")
	}

	ser, err := serializer.New(conf.Serializer, transformed)
	if err != nil {
		return nil, common.WrapError(common.CodeInvalidConfig, err, "body: serializer")
	}

	comp, err := compress.New(conf.Compression)
	if err != nil {
		return nil, common.WrapError(common.CodeInvalidConfig, err, "body: compression")
	}

	log.Debugf("body pipeline: %d date fields, %d text fields, %s, %s",
		len(dates), len(texts), ser.Name(), comp.Name())

	return &Codec{
		original:    conf.Schema,
		transformed: transformed,
		transformer: transformer,
		serializer:  ser,
		compressor:  comp,
	}, nil
}

// Schema returns the schema of the application message.
func (c *Codec) Schema() *schema.Type {
	return c.original
}

// TransformedSchema returns the schema the serializer is bound to.
func (c *Codec) TransformedSchema() *schema.Type {
	return c.transformed
}

// Encode returns the compressed body of msg. ref is the reference date of
// the date field offsets.
func (c *Codec) Encode(msg message.Node, ref time.Time) ([]byte, error) {
	transformed, err := c.transformer.Forward(msg, ref)
	if err != nil {
		return nil, fmt.Errorf("body: transform: %w", err)
	}

	serialized, err := c.serializer.Serialize(transformed)
	if err != nil {
		return nil, fmt.Errorf("body: serialize: %w", err)
	}

	compressed, err := c.compressor.Compress(serialized)
	if err != nil {
		return nil, fmt.Errorf("body: compress: %w", err)
	}
	return compressed, nil
}

// Decode reverses Encode. ref must be the reference date used by Encode.
func (c *Codec) Decode(b []byte, ref time.Time) (message.Node, error) {
	serialized, err := c.compressor.Decompress(b)
	if err != nil {
		return nil, fmt.Errorf("body: decompress: %w", err)
	}

	transformed, err := c.serializer.Deserialize(serialized)
	if err != nil {
		return nil, fmt.Errorf("body: deserialize: %w", err)
	}

	msg, err := c.transformer.Backward(transformed, ref)
	if err != nil {
		return nil, fmt.Errorf("body: transform: %w", err)
	}
	return msg, nil
}
