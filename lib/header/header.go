package header

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dFrag/lib/common"
	"github.com/hashicorp/go-multierror"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("header")

// DateLayout is the calendar date format used for transaction and epoch dates.
const DateLayout = "2006-01-02"

var ErrTransactionOutOfRange = errors.New("header: transaction date outside the encodable range")

// Field names of the header layout
const (
	FieldTag         = "tag"
	FieldIdentity    = "identity_digest"
	FieldTransaction = "transaction_offset"
	FieldCountSeq    = "count_seq"
)

// Width limits
const (
	maxTagBits         = 64
	maxTransactionBits = 32
	maxCountBits       = 16
)

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// Config describes one header version.
type Config struct {
	Tag             uint64          // version identifier written to every fragment
	TagBits         int             // width of the tag (whole bytes)
	IdentityBits    int             // width of the truncated identity digest (whole bytes)
	TransactionBits int             // width of the day offset (whole bytes)
	CountBits       int             // width of one count value (multiple of 4), stored twice
	Epoch           time.Time       // day zero of the transaction offset
	Digest          DigestAlgorithm // keyed hash for the identity digest
	IdentityKey     []byte          // secret key of the identity digest
}

// Validate checks the field widths. All problems are reported at once.
func (c Config) Validate() error {
	var result *multierror.Error

	wholeBytes := func(name string, bits, max int) {
		switch {
		case bits <= 0:
			result = multierror.Append(result, fmt.Errorf("%s must be positive (got %d)", name, bits))
		case bits%8 != 0:
			result = multierror.Append(result, fmt.Errorf("%s must be a multiple of 8 (got %d)", name, bits))
		case bits > max:
			result = multierror.Append(result, fmt.Errorf("%s must not exceed %d (got %d)", name, max, bits))
		}
	}
	wholeBytes("tag_bits", c.TagBits, maxTagBits)
	wholeBytes("identity_bits", c.IdentityBits, maxDigestBits)
	wholeBytes("transaction_bits", c.TransactionBits, maxTransactionBits)

	switch {
	case c.CountBits <= 0:
		result = multierror.Append(result, fmt.Errorf("count_bits must be positive (got %d)", c.CountBits))
	case c.CountBits%4 != 0:
		result = multierror.Append(result, fmt.Errorf("count_bits must be a multiple of 4 (got %d)", c.CountBits))
	case c.CountBits > maxCountBits:
		result = multierror.Append(result, fmt.Errorf("count_bits must not exceed %d (got %d)", maxCountBits, c.CountBits))
	}

	if c.TagBits > 0 && c.TagBits < 64 && c.Tag >= 1<<uint(c.TagBits) {
		result = multierror.Append(result, fmt.Errorf("tag %d does not fit into %d bits", c.Tag, c.TagBits))
	}
	if c.Epoch.IsZero() {
		result = multierror.Append(result, fmt.Errorf("epoch must be set"))
	}
	if _, err := ParseDigestAlgorithm(string(c.Digest)); err != nil {
		result = multierror.Append(result, err)
	}

	if err := result.ErrorOrNil(); err != nil {
		return common.WrapError(common.CodeInvalidConfig, err, "invalid header configuration")
	}
	return nil
}

// --------------------------------------------------------------------------
// Codec
// --------------------------------------------------------------------------

// Parsed is the result of decoding a fragment header.
type Parsed struct {
	Tag             uint64
	IdentityDigest  []byte
	TransactionDate time.Time
	Total           int
	Index           int
	Payload         []byte // bytes following the header
}

// Codec encodes and decodes headers of one version.
// A Codec is immutable and safe for concurrent use.
type Codec struct {
	conf   Config
	epoch  time.Time
	layout Layout
	digest digestFunc
}

// NewCodec validates the configuration and creates a header codec.
// A configuration error is fatal and reported as common.ErrInvalidConfig.
func NewCodec(conf Config) (*Codec, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	digest, err := newDigestFunc(conf.Digest, conf.IdentityKey)
	if err != nil {
		return nil, common.WrapError(common.CodeInvalidConfig, err, "invalid digest")
	}

	return &Codec{
		conf:  conf,
		epoch: civilDate(conf.Epoch),
		layout: Layout{
			{Name: FieldTag, Width: conf.TagBits},
			{Name: FieldIdentity, Width: conf.IdentityBits},
			{Name: FieldTransaction, Width: conf.TransactionBits},
			{Name: FieldCountSeq, Width: 2 * conf.CountBits},
		},
		digest: digest,
	}, nil
}

// Tag returns the version tag written by this codec.
func (c *Codec) Tag() uint64 {
	return c.conf.Tag
}

// Len returns the header length in bytes.
func (c *Codec) Len() int {
	return c.layout.Len()
}

// Layout returns a copy of the field layout.
func (c *Codec) Layout() Layout {
	return append(Layout(nil), c.layout...)
}

// MaxFragments returns the maximum number of fragments per message.
func (c *Codec) MaxFragments() int {
	return 1 << uint(c.conf.CountBits)
}

// IdentityDigest returns the truncated keyed digest of an identity.
func (c *Codec) IdentityDigest(identity string) []byte {
	return c.digest(identity)[:c.conf.IdentityBits/8]
}

// Encode builds the header of fragment index (0-based) out of total.
func (c *Codec) Encode(identity string, transactionDate time.Time, total, index int) ([]byte, error) {
	maxFragments := c.MaxFragments()
	if total > maxFragments {
		return nil, common.NewError(common.CodeFragmentCountExceeded,
			"%d fragments exceed the maximum of %d", total, maxFragments)
	}
	if total < 1 || index < 0 || index >= total {
		return nil, fmt.Errorf("header: invalid fragment position %d of %d", index, total)
	}

	offset, err := c.dayOffset(transactionDate)
	if err != nil {
		return nil, err
	}

	countSeq := uint64(total-1)*uint64(maxFragments) + uint64(index)

	return c.layout.Pack(
		UintBytes(c.conf.Tag, c.conf.TagBits),
		c.IdentityDigest(identity),
		UintBytes(offset, c.conf.TransactionBits),
		UintBytes(countSeq, 2*c.conf.CountBits),
	)
}

// Decode parses the header at the start of b.
//
// It fails with common.ErrTagMismatch if the fragment was written by another
// version, with ErrShortHeader if the tag matches but the input is shorter
// than the layout and with common.ErrAuthFailed if testMode is false and the embedded
// digest does not belong to claimedIdentity.
func (c *Codec) Decode(b []byte, claimedIdentity string, testMode bool) (Parsed, error) {
	// the tag is the leading whole-byte field, other versions may use
	// shorter layouts
	tagBytes := c.conf.TagBits / 8
	if len(b) < tagBytes {
		return Parsed{}, fmt.Errorf("%w: got %d bytes, need %d for the tag", ErrShortHeader, len(b), tagBytes)
	}
	if tag := BytesUint(b[:tagBytes]); tag != c.conf.Tag {
		return Parsed{}, common.NewError(common.CodeTagMismatch, "tag %d, expected %d", tag, c.conf.Tag)
	}

	values, rest, err := c.layout.Unpack(b)
	if err != nil {
		return Parsed{}, err
	}
	tag := BytesUint(values[0])

	digest := values[1]
	if !testMode && !bytes.Equal(digest, c.IdentityDigest(claimedIdentity)) {
		log.Debugf("identity digest mismatch for %q", claimedIdentity)
		return Parsed{}, common.NewError(common.CodeAuthFailed, "identity %q does not match the fragment", claimedIdentity)
	}

	offset := BytesUint(values[2])
	maxFragments := uint64(c.MaxFragments())
	countSeq := BytesUint(values[3])
	total := int(countSeq/maxFragments) + 1
	index := int(countSeq % maxFragments)
	if index >= total {
		return Parsed{}, fmt.Errorf("header: corrupt count field (index %d of %d)", index, total)
	}

	return Parsed{
		Tag:             tag,
		IdentityDigest:  digest,
		TransactionDate: c.epoch.AddDate(0, 0, int(offset)),
		Total:           total,
		Index:           index,
		Payload:         rest,
	}, nil
}

// dayOffset returns the number of days between the epoch and date.
func (c *Codec) dayOffset(date time.Time) (uint64, error) {
	days := civilDate(date).Sub(c.epoch).Hours() / 24
	if days < 0 {
		return 0, fmt.Errorf("%w: %s is before the epoch %s", ErrTransactionOutOfRange,
			date.Format(DateLayout), c.epoch.Format(DateLayout))
	}
	offset := uint64(days)
	if c.conf.TransactionBits < 64 && offset >= 1<<uint(c.conf.TransactionBits) {
		return 0, fmt.Errorf("%w: %s needs more than %d bits", ErrTransactionOutOfRange,
			date.Format(DateLayout), c.conf.TransactionBits)
	}
	return offset, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// civilDate strips the time of day and the location, keeping the calendar date.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Split cuts body into chunks of at most payloadSize bytes.
// An empty body yields a single empty chunk so that every message has at
// least one fragment.
func Split(body []byte, payloadSize int) [][]byte {
	if payloadSize <= 0 {
		panic("header: payload size must be positive")
	}
	if len(body) == 0 {
		return [][]byte{{}}
	}
	chunks := make([][]byte, 0, (len(body)+payloadSize-1)/payloadSize)
	for start := 0; start < len(body); start += payloadSize {
		end := start + payloadSize
		if end > len(body) {
			end = len(body)
		}
		chunks = append(chunks, body[start:end])
	}
	return chunks
}
