package codec

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ValentinKolb/dFrag/lib/body"
	"github.com/ValentinKolb/dFrag/lib/common"
	"github.com/ValentinKolb/dFrag/lib/header"
	"github.com/ValentinKolb/dFrag/lib/message"
	"github.com/ValentinKolb/dFrag/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("codec")

// Outcome is the result of decoding one fragment.
type Outcome struct {
	Status          store.Status
	Tag             uint64       // version of the fragment
	TransactionDate time.Time    // date from the header
	Total           int          // number of fragments of the message
	Index           int          // 0-based position of the fragment
	Missing         []int        // 0-based positions still missing (waiting, duplicated)
	Message         message.Node // the decoded message (finished)
}

// Codec is one protocol version: a header layout, a body pipeline and the
// fragment size, bound to the store that reassembles its messages.
//
// The transaction date is the date of the header and the reference date of
// the body's date fields, so a receiver needs nothing but the fragments.
//
// Thread-safety: A Codec is safe for concurrent use if its store is.
type Codec struct {
	header      *header.Codec
	body        *body.Codec
	payloadSize int
	testMode    bool
	store       store.IFragmentStore
}

// New creates a codec. maxFragmentBytes is the size of a whole fragment
// including the header. In test mode the identity digest of received
// fragments is not verified.
func New(h *header.Codec, b *body.Codec, maxFragmentBytes int, testMode bool, s store.IFragmentStore) (*Codec, error) {
	if h == nil || b == nil || s == nil {
		return nil, common.NewError(common.CodeInvalidConfig, "codec: header, body and store are required")
	}
	payloadSize := maxFragmentBytes - h.Len()
	if payloadSize <= 0 {
		return nil, common.NewError(common.CodeInvalidConfig,
			"codec: max fragment size %d leaves no room for payload after the %d byte header", maxFragmentBytes, h.Len())
	}
	if testMode {
		log.Warningf("version %d runs in test mode, identities are not verified", h.Tag())
	}
	return &Codec{
		header:      h,
		body:        b,
		payloadSize: payloadSize,
		testMode:    testMode,
		store:       s,
	}, nil
}

// Tag returns the version tag of the codec.
func (c *Codec) Tag() uint64 {
	return c.header.Tag()
}

// Header returns the header codec.
func (c *Codec) Header() *header.Codec {
	return c.header
}

// Body returns the body codec.
func (c *Codec) Body() *body.Codec {
	return c.body
}

// PayloadSize returns the number of body bytes carried by one fragment.
func (c *Codec) PayloadSize() int {
	return c.payloadSize
}

// Store returns the store used for reassembly.
func (c *Codec) Store() store.IFragmentStore {
	return c.store
}

// Encode turns a message into fragments. It fails with
// common.ErrFragmentCountExceeded if the body needs more fragments than the
// header can count.
func (c *Codec) Encode(identity string, date time.Time, msg message.Node) ([][]byte, error) {
	b, err := c.body.Encode(msg, date)
	if err != nil {
		return nil, err
	}

	chunks := header.Split(b, c.payloadSize)
	if max := c.header.MaxFragments(); len(chunks) > max {
		return nil, common.NewError(common.CodeFragmentCountExceeded,
			"body of %d bytes needs %d fragments of %d bytes, the maximum is %d", len(b), len(chunks), c.payloadSize, max)
	}

	fragments := make([][]byte, len(chunks))
	for i, chunk := range chunks {
		h, err := c.header.Encode(identity, date, len(chunks), i)
		if err != nil {
			return nil, err
		}
		fragments[i] = append(h, chunk...)
	}

	common.ObserveEncode(len(fragments))
	log.Debugf("encoded %d byte body for %q into %d fragments (version %d)", len(b), identity, len(fragments), c.Tag())
	return fragments, nil
}

// DecodeFragment parses one fragment and submits it to the store. When the
// fragment completes its message, the message is decoded and returned.
//
// A fragment of another version fails with common.ErrTagMismatch, a fragment
// of another identity with common.ErrAuthFailed.
func (c *Codec) DecodeFragment(fragment []byte, identity string) (Outcome, error) {
	parsed, err := c.header.Decode(fragment, identity, c.testMode)
	if err != nil {
		return Outcome{}, err
	}

	res, err := c.store.Submit(identity, TransactionKey(parsed.Tag, parsed.TransactionDate), parsed.Total, parsed.Index, parsed.Payload)
	if err != nil {
		return Outcome{}, &storageError{err: err}
	}

	out := Outcome{
		Status:          res.Status,
		Tag:             parsed.Tag,
		TransactionDate: parsed.TransactionDate,
		Total:           res.Total,
		Index:           res.Index,
		Missing:         res.Missing,
	}
	if res.Status != store.StatusFinished {
		return out, nil
	}

	out.Message, err = c.body.Decode(res.Payload, parsed.TransactionDate)
	if err != nil {
		return Outcome{}, common.WrapError(common.CodeDecode, err, "version %d message of %q", parsed.Tag, identity)
	}
	return out, nil
}

// TransactionKey returns the transaction part of the reassembly key.
// The version is part of the key so that fragments of different versions
// never merge.
func TransactionKey(tag uint64, date time.Time) string {
	return "v" + strconv.FormatUint(tag, 10) + "/" + date.Format(header.DateLayout)
}

// storageError marks errors of the store, they are returned unchanged by Decode
type storageError struct {
	err error
}

func (e *storageError) Error() string {
	return fmt.Sprintf("storage: %v", e.err)
}

func (e *storageError) Unwrap() error {
	return e.err
}
