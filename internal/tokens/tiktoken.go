package tokens

import (
	"github.com/pkoukk/tiktoken-go"
	"github.com/rotisserie/eris"
)

// Encodings supported by NewTiktoken.
const (
	EncodingHeuristic = "heuristic"
	EncodingCL100K    = "cl100k_base"
	EncodingO200K     = "o200k_base"
)

// Tiktoken counts with a BPE encoding. Loading an encoding fetches its rank
// file on first use unless TIKTOKEN_CACHE_DIR already holds it.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the named BPE encoding.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, eris.Wrapf(err, "tokens: load encoding %s", encoding)
	}
	return &Tiktoken{enc: enc}, nil
}

// Count implements Counter.
func (t *Tiktoken) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// Truncate implements Counter by decoding the first max tokens.
func (t *Tiktoken) Truncate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	ids := t.enc.Encode(text, nil, nil)
	if len(ids) <= max {
		return text
	}
	return t.enc.Decode(ids[:max])
}

// NewCounter returns the Counter for an encoding name. Empty selects the
// heuristic.
func NewCounter(encoding string) (Counter, error) {
	switch encoding {
	case "", EncodingHeuristic:
		return NewHeuristic(), nil
	case EncodingCL100K, EncodingO200K:
		return NewTiktoken(encoding)
	default:
		return nil, eris.Errorf("tokens: unknown encoding %q", encoding)
	}
}
