package tokenizer

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/text/unicode/norm"
)

var log = logger.GetLogger("tokenizer")

// ByteTokens is the number of ids reserved for raw bytes. Id b < ByteTokens
// stands for the single byte b, vocabulary pieces start at ByteTokens.
const ByteTokens = 256

// MaxPieces is the largest vocabulary that fits into 16 bit ids.
const MaxPieces = 1<<16 - ByteTokens

// --------------------------------------------------------------------------
// Vocabulary tokenizer
// --------------------------------------------------------------------------

// Vocab is a greedy longest-match tokenizer over a fixed list of pieces.
// Input is normalised to NFC, bytes not covered by any piece are emitted as
// byte tokens, so every string can be encoded.
//
// Thread-safety: Vocab is immutable after creation and safe for concurrent use.
type Vocab struct {
	pieces []string
	ids    map[string]uint16
	maxLen int
}

// NewVocab creates a tokenizer from a list of pieces. Empty and duplicate
// pieces are ignored.
func NewVocab(pieces []string) (*Vocab, error) {
	v := &Vocab{ids: make(map[string]uint16, len(pieces))}
	for _, p := range pieces {
		p = norm.NFC.String(p)
		if p == "" {
			continue
		}
		if _, ok := v.ids[p]; ok {
			continue
		}
		if len(v.pieces) == MaxPieces {
			return nil, fmt.Errorf("tokenizer: vocabulary exceeds %d pieces", MaxPieces)
		}
		v.ids[p] = uint16(ByteTokens + len(v.pieces))
		v.pieces = append(v.pieces, p)
		if len(p) > v.maxLen {
			v.maxLen = len(p)
		}
	}
	return v, nil
}

// Size returns the number of vocabulary pieces.
func (v *Vocab) Size() int {
	return len(v.pieces)
}

// Encode implements transform.Tokenizer
func (v *Vocab) Encode(text string) []uint16 {
	text = norm.NFC.String(text)
	ids := make([]uint16, 0, len(text)/2+1)

	for i := 0; i < len(text); {
		longest := v.maxLen
		if rem := len(text) - i; rem < longest {
			longest = rem
		}

		matched := false
		for l := longest; l > 0; l-- {
			if id, ok := v.ids[text[i:i+l]]; ok {
				ids = append(ids, id)
				i += l
				matched = true
				break
			}
		}
		if !matched {
			ids = append(ids, uint16(text[i]))
			i++
		}
	}
	return ids
}

// Decode implements transform.Tokenizer
func (v *Vocab) Decode(ids []uint16) (string, error) {
	var sb strings.Builder
	for _, id := range ids {
		if id < ByteTokens {
			sb.WriteByte(byte(id))
			continue
		}
		i := int(id) - ByteTokens
		if i >= len(v.pieces) {
			return "", fmt.Errorf("tokenizer: unknown token id %d", id)
		}
		sb.WriteString(v.pieces[i])
	}
	return sb.String(), nil
}

// LoadVocabFile reads a vocabulary with one piece per line. Lines written as
// Go string literals ("...") are unquoted, which allows pieces with leading
// or trailing spaces and escapes.
func LoadVocabFile(path string) (*Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: open vocabulary: %w", err)
	}
	defer f.Close()

	var pieces []string
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if strings.HasPrefix(text, `"`) {
			unquoted, err := strconv.Unquote(text)
			if err != nil {
				return nil, fmt.Errorf("tokenizer: %s:%d: %w", path, line, err)
			}
			text = unquoted
		}
		pieces = append(pieces, text)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("tokenizer: read vocabulary: %w", err)
	}

	v, err := NewVocab(pieces)
	if err != nil {
		return nil, err
	}
	log.Infof("loaded vocabulary %s with %d pieces", path, v.Size())
	return v, nil
}

// --------------------------------------------------------------------------
// Default vocabulary
// --------------------------------------------------------------------------

// defaultPieces covers frequent English words and fragments.
var defaultPieces = []string{
	" the", " and", " of", " to", " in", " a", " is", " for", " on", " with",
	" that", " this", " it", " as", " be", " by", " at", " are", " from", " or",
	" not", " was", " have", " has", " will", " you", " we", " your", " our", " please",
	" order", " delivery", " payment", " customer", " account", " thank", " thanks",
	"The", "This", "Please", "Thank", "Hello", "Hi",
	"ing", "tion", "ment", "ness", "able", "ed", "er", "es", "ly", "re", "th", "an", "en", "on",
	". ", ", ", "! ", "? ", "\n",
}

// Default returns a tokenizer with a small built-in English vocabulary.
func Default() *Vocab {
	v, err := NewVocab(defaultPieces)
	if err != nil {
		panic(err)
	}
	return v
}

// Bytes returns a tokenizer without vocabulary: every byte is one token.
func Bytes() *Vocab {
	v, _ := NewVocab(nil)
	return v
}
