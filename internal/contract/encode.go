package contract

import (
	"fmt"

	gethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// EncodeEvent builds the topics and data of a market event log from named
// arguments. Indexed arguments must be addresses.
func EncodeEvent(name EventName, args map[string]interface{}) ([]string, string, error) {
	event, ok := MarketABI().Events[string(name)]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}
	topics := []string{event.ID.Hex()}
	var values []interface{}
	for _, arg := range event.Inputs {
		v, ok := args[arg.Name]
		if !ok {
			return nil, "", fmt.Errorf("missing argument %s for %s", arg.Name, name)
		}
		if arg.Indexed {
			addr, ok := v.(gethCommon.Address)
			if !ok {
				return nil, "", fmt.Errorf("indexed argument %s must be an address, got %T", arg.Name, v)
			}
			topics = append(topics, gethCommon.BytesToHash(addr.Bytes()).Hex())
			continue
		}
		values = append(values, v)
	}
	data, err := event.Inputs.NonIndexed().Pack(values...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to pack %s: %w", name, err)
	}
	return topics, hexutil.Encode(data), nil
}
