package transform

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ValentinKolb/dFrag/lib/message"
	"github.com/ValentinKolb/dFrag/lib/schema"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("transform")

// DateLayout is the textual form of date fields.
const DateLayout = "2006-01-02"

// Tokenizer converts text into token ids and back.
// Decode(Encode(s)) must return s (after the normalisation the tokenizer
// applies) for every valid UTF-8 string.
type Tokenizer interface {
	Encode(text string) []uint16
	Decode(ids []uint16) (string, error)
}

// --------------------------------------------------------------------------
// Token packing
// --------------------------------------------------------------------------

// PackTokens writes each id as a 2-byte big-endian integer.
func PackTokens(ids []uint16) []byte {
	b := make([]byte, 2*len(ids))
	for i, id := range ids {
		binary.BigEndian.PutUint16(b[2*i:], id)
	}
	return b
}

// UnpackTokens reverses PackTokens.
func UnpackTokens(b []byte) ([]uint16, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("transform: packed tokens have odd length %d", len(b))
	}
	ids := make([]uint16, len(b)/2)
	for i := range ids {
		ids[i] = binary.BigEndian.Uint16(b[2*i:])
	}
	return ids, nil
}

// --------------------------------------------------------------------------
// Transformer
// --------------------------------------------------------------------------

// Transformer rewrites the date and text fields of a message.
//
// Forward replaces every date string by its day offset from a reference
// date and every text string by its packed token ids. Backward restores the
// original strings. Both work on a deep copy and never modify their input.
//
// Thread-safety: A Transformer is immutable and may be shared as long as the
// Tokenizer is safe for concurrent use.
type Transformer struct {
	dates     []schema.Path
	texts     []schema.Path
	tokenizer Tokenizer
}

// New creates a transformer. A tokenizer is required if textFields is not empty.
func New(dateFields, textFields []schema.Path, tokenizer Tokenizer) (*Transformer, error) {
	if len(textFields) > 0 && tokenizer == nil {
		return nil, fmt.Errorf("transform: text fields configured without a tokenizer")
	}
	return &Transformer{
		dates:     dateFields,
		texts:     textFields,
		tokenizer: tokenizer,
	}, nil
}

// Forward returns a transformed copy of msg. ref is the reference date of
// the day offsets, usually the transaction date of the message.
func (t *Transformer) Forward(msg message.Node, ref time.Time) (message.Node, error) {
	out := message.Clone(msg)
	ref = civilDate(ref)

	for _, p := range t.dates {
		if err := message.Apply(out, p, message.EachScalar(func(s message.Scalar) (message.Scalar, error) {
			str, ok := s.Value.(string)
			if !ok {
				return s, fmt.Errorf("date field holds %T", s.Value)
			}
			d, err := time.Parse(DateLayout, str)
			if err != nil {
				return s, fmt.Errorf("invalid date %q: %w", str, err)
			}
			return message.Int(daysBetween(ref, d)), nil
		})); err != nil {
			return nil, err
		}
	}

	for _, p := range t.texts {
		if err := message.Apply(out, p, message.EachScalar(func(s message.Scalar) (message.Scalar, error) {
			str, ok := s.Value.(string)
			if !ok {
				return s, fmt.Errorf("text field holds %T", s.Value)
			}
			return message.Bytes(PackTokens(t.tokenizer.Encode(str))), nil
		})); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// Backward returns a copy of msg with the transforms of Forward reversed.
// ref must be the same reference date that was used by Forward.
func (t *Transformer) Backward(msg message.Node, ref time.Time) (message.Node, error) {
	out := message.Clone(msg)
	ref = civilDate(ref)

	for _, p := range t.dates {
		if err := message.Apply(out, p, message.EachScalar(func(s message.Scalar) (message.Scalar, error) {
			days, ok := s.Value.(int64)
			if !ok {
				return s, fmt.Errorf("transformed date field holds %T", s.Value)
			}
			return message.String(ref.AddDate(0, 0, int(days)).Format(DateLayout)), nil
		})); err != nil {
			return nil, err
		}
	}

	for _, p := range t.texts {
		if err := message.Apply(out, p, message.EachScalar(func(s message.Scalar) (message.Scalar, error) {
			b, ok := s.Value.([]byte)
			if !ok {
				return s, fmt.Errorf("transformed text field holds %T", s.Value)
			}
			ids, err := UnpackTokens(b)
			if err != nil {
				return s, err
			}
			text, err := t.tokenizer.Decode(ids)
			if err != nil {
				return s, err
			}
			return message.String(text), nil
		})); err != nil {
			return nil, err
		}
	}

	log.Debugf("restored %d date and %d text paths", len(t.dates), len(t.texts))
	return out, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysBetween returns the signed number of calendar days from ref to d.
func daysBetween(ref, d time.Time) int64 {
	return (civilDate(d).Unix() - ref.Unix()) / 86400
}
