package config

import (
	"github.com/ValentinKolb/dFrag/lib/body"
	"github.com/ValentinKolb/dFrag/lib/codec"
	"github.com/ValentinKolb/dFrag/lib/common"
	"github.com/ValentinKolb/dFrag/lib/header"
	"github.com/ValentinKolb/dFrag/lib/schema"
	"github.com/ValentinKolb/dFrag/lib/store"
	"github.com/ValentinKolb/dFrag/lib/store/mstore"
	"github.com/ValentinKolb/dFrag/lib/store/pstore"
	"github.com/ValentinKolb/dFrag/lib/tokenizer"
	"github.com/ValentinKolb/dFrag/lib/transform"
)

// --------------------------------------------------------------------------
// Building the pipeline
// --------------------------------------------------------------------------

// OpenStore creates the configured fragment store.
func (c *Config) OpenStore() (store.IFragmentStore, error) {
	opts := store.Options{TTL: c.TTL()}
	switch c.Store.Backend {
	case BackendPebble:
		return pstore.Open(c.Resolve(c.Store.Path), opts)
	case BackendMemory:
		return mstore.NewStore(opts), nil
	default:
		return nil, common.NewError(common.CodeInvalidConfig, "unknown store backend %q", c.Store.Backend)
	}
}

// NewCodec builds the codec of one version. Field paths that do not exist in
// the schema fail with common.ErrSchemaFieldNotFound.
func (c *Config) NewCodec(v Version, s store.IFragmentStore) (*codec.Codec, error) {
	hc, err := v.HeaderConfig()
	if err != nil {
		return nil, common.WrapError(common.CodeInvalidConfig, err, "version %d", v.Tag)
	}
	h, err := header.NewCodec(hc)
	if err != nil {
		return nil, err
	}

	sch, err := schema.LoadFile(c.Resolve(v.SchemaFile))
	if err != nil {
		return nil, common.WrapError(common.CodeInvalidConfig, err, "version %d: schema", v.Tag)
	}

	var tok transform.Tokenizer = tokenizer.Default()
	if v.TokenizerVocab != "" {
		vocab, err := tokenizer.LoadVocabFile(c.Resolve(v.TokenizerVocab))
		if err != nil {
			return nil, common.WrapError(common.CodeInvalidConfig, err, "version %d: tokenizer", v.Tag)
		}
		tok = vocab
	}

	b, err := body.NewCodec(body.Config{
		Schema:      sch,
		DateFields:  v.DateFields,
		TextFields:  v.TextFields,
		Serializer:  v.Serializer,
		Compression: v.Compression,
		Tokenizer:   tok,
	})
	if err != nil {
		return nil, err
	}

	return codec.New(h, b, v.MaxFragmentBytes, c.TestMode, s)
}

// NewDecoder builds the codecs of all versions on a shared store.
func (c *Config) NewDecoder(s store.IFragmentStore) (*codec.MultiVersionDecoder, error) {
	current, err := c.NewCodec(c.Current, s)
	if err != nil {
		return nil, err
	}
	legacy := make([]*codec.Codec, 0, len(c.Legacy))
	for _, v := range c.Legacy {
		lc, err := c.NewCodec(v, s)
		if err != nil {
			return nil, err
		}
		legacy = append(legacy, lc)
	}
	return codec.NewMultiVersionDecoder(current, legacy...)
}
