package codec

import (
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dFrag/lib/common"
	"github.com/ValentinKolb/dFrag/lib/header"
	"github.com/ValentinKolb/dFrag/lib/message"
)

// MultiVersionDecoder decodes fragments of the current and any number of
// legacy versions. Messages are always encoded with the current version.
//
// Thread-safety: Safe for concurrent use if the stores of the codecs are.
type MultiVersionDecoder struct {
	codecs []*Codec
}

// NewMultiVersionDecoder creates a decoder that tries current first, then
// the legacy codecs in the given order. Two versions with the same tag of the
// same width could never be told apart and are rejected.
func NewMultiVersionDecoder(current *Codec, legacy ...*Codec) (*MultiVersionDecoder, error) {
	if current == nil {
		return nil, common.NewError(common.CodeInvalidConfig, "decoder: missing current version")
	}
	codecs := append([]*Codec{current}, legacy...)
	for i, a := range codecs {
		if a == nil {
			return nil, common.NewError(common.CodeInvalidConfig, "decoder: version %d is nil", i)
		}
		for _, b := range codecs[:i] {
			if a.Tag() == b.Tag() && a.Header().Layout()[0].Width == b.Header().Layout()[0].Width {
				return nil, common.NewError(common.CodeInvalidConfig, "decoder: tag %d is used by two versions", a.Tag())
			}
		}
	}
	return &MultiVersionDecoder{codecs: codecs}, nil
}

// Current returns the codec used for encoding.
func (d *MultiVersionDecoder) Current() *Codec {
	return d.codecs[0]
}

// Codecs returns all codecs in the order they are tried.
func (d *MultiVersionDecoder) Codecs() []*Codec {
	return append([]*Codec(nil), d.codecs...)
}

// Encode encodes msg with the current version.
func (d *MultiVersionDecoder) Encode(identity string, date time.Time, msg message.Node) ([][]byte, error) {
	return d.Current().Encode(identity, date, msg)
}

// Decode decodes one fragment with the first version whose tag matches.
//
// Errors of the taxonomy in common (AuthFailed, UnknownVersion, ...) and
// errors of the store are returned as they are. Everything else, including
// panics, is reported as common.ErrDecode carrying the cause, so a single
// malformed fragment cannot end a scanning session.
func (d *MultiVersionDecoder) Decode(fragment []byte, identity string) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("recovered from panic while decoding a fragment: %v", r)
			out, err = Outcome{}, common.WrapError(common.CodeDecode, fmt.Errorf("panic: %v", r), "decode fragment")
		}
		if err != nil {
			common.CountDecodeFailure(common.CodeOf(err))
		}
	}()

	// a header too short for one layout may still belong to a version with
	// a shorter layout
	var short error
	for _, c := range d.codecs {
		out, err = c.DecodeFragment(fragment, identity)
		if errors.Is(err, common.ErrTagMismatch) {
			continue
		}
		if errors.Is(err, header.ErrShortHeader) {
			if short == nil {
				short = err
			}
			continue
		}
		return out, classify(err)
	}

	if short != nil {
		return Outcome{}, common.WrapError(common.CodeDecode, short, "decode fragment")
	}
	return Outcome{}, common.NewError(common.CodeUnknownVersion,
		"no configured version matches the fragment (tried %d)", len(d.codecs))
}

// classify converts an error of DecodeFragment into the error returned by Decode
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *storageError
	if errors.As(err, &se) {
		return se.err
	}
	if common.CodeOf(err) != common.CodeInternal {
		return err
	}
	return common.WrapError(common.CodeDecode, err, "decode fragment")
}
