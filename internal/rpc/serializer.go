package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Integers whose magnitude exceeds what an IEEE double represents exactly are
// carried as "<decimal>n" strings so consumers that parse JSON numbers as
// doubles can restore them without loss.
var (
	maxSafeInteger = big.NewInt(1<<53 - 1)
	minSafeInteger = big.NewInt(-(1<<53 - 1))
	losslessIntRe  = regexp.MustCompile(`^-?[0-9]+n$`)
)

// MarshalLossless encodes v as JSON, tagging unsafe integers.
func MarshalLossless(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := decodeNumbers(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(tagUnsafeIntegers(generic))
}

// UnmarshalLossless is the inverse of MarshalLossless.
func UnmarshalLossless(data []byte, v interface{}) error {
	var generic interface{}
	if err := decodeNumbers(data, &generic); err != nil {
		return err
	}
	restored, err := json.Marshal(untagIntegers(generic))
	if err != nil {
		return err
	}
	return decodeNumbers(restored, v)
}

func decodeNumbers(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func tagUnsafeIntegers(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, item := range val {
			val[k] = tagUnsafeIntegers(item)
		}
		return val
	case []interface{}:
		for i, item := range val {
			val[i] = tagUnsafeIntegers(item)
		}
		return val
	case json.Number:
		n, ok := new(big.Int).SetString(val.String(), 10)
		if !ok {
			return val
		}
		if n.Cmp(maxSafeInteger) > 0 || n.Cmp(minSafeInteger) < 0 {
			return n.String() + "n"
		}
		return val
	default:
		return v
	}
}

func untagIntegers(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, item := range val {
			val[k] = untagIntegers(item)
		}
		return val
	case []interface{}:
		for i, item := range val {
			val[i] = untagIntegers(item)
		}
		return val
	case string:
		if losslessIntRe.MatchString(val) {
			return json.Number(strings.TrimSuffix(val, "n"))
		}
		return val
	default:
		return v
	}
}

// Result is the raw JSON payload of one RPC response. Numbers are never
// routed through float64.
type Result json.RawMessage

func (r Result) IsNull() bool {
	trimmed := bytes.TrimSpace(r)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func (r Result) Decode(v interface{}) error {
	if r.IsNull() {
		return fmt.Errorf("empty rpc result")
	}
	return decodeNumbers(r, v)
}

// BigInt decodes a hex quantity.
func (r Result) BigInt() (*big.Int, error) {
	var q hexutil.Big
	if err := r.Decode(&q); err != nil {
		return nil, fmt.Errorf("decoding quantity: %w", err)
	}
	return q.ToInt(), nil
}

func (r Result) Uint64() (uint64, error) {
	var q hexutil.Uint64
	if err := r.Decode(&q); err != nil {
		return 0, fmt.Errorf("decoding quantity: %w", err)
	}
	return uint64(q), nil
}

func (r Result) Bytes() ([]byte, error) {
	var b hexutil.Bytes
	if err := r.Decode(&b); err != nil {
		return nil, fmt.Errorf("decoding data: %w", err)
	}
	return b, nil
}

func (r Result) String() string {
	return string(r)
}
