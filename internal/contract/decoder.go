package contract

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/curvewatch/indexer/internal/common"
	"github.com/ethereum/go-ethereum/accounts/abi"
	gethCommon "github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownEvent   = errors.New("unknown event signature")
	ErrNoTokenAddress = errors.New("event carries no token address")
)

// Decoder turns raw logs of the market contract into typed events.
type Decoder struct {
	abi *abi.ABI
}

func NewDecoder() *Decoder {
	return &Decoder{abi: MarketABI()}
}

func (d *Decoder) Decode(l *common.RawLog) (Event, error) {
	if len(l.Topics) == 0 {
		return nil, ErrUnknownEvent
	}
	event, err := d.abi.EventByID(gethCommon.HexToHash(l.Topics[0]))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, l.Topics[0])
	}

	values := make(map[string]interface{})
	if err := event.Inputs.UnpackIntoMap(values, gethCommon.FromHex(l.Data)); err != nil {
		return nil, fmt.Errorf("failed to unpack %s data: %w", event.Name, err)
	}
	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	topics := make([]gethCommon.Hash, 0, len(l.Topics)-1)
	for _, t := range l.Topics[1:] {
		topics = append(topics, gethCommon.HexToHash(t))
	}
	if len(topics) != len(indexed) {
		return nil, fmt.Errorf("%s expects %d indexed topics, got %d", event.Name, len(indexed), len(topics))
	}
	if err := abi.ParseTopicsIntoMap(values, indexed, topics); err != nil {
		return nil, fmt.Errorf("failed to parse %s topics: %w", event.Name, err)
	}

	args := eventArgs(values)
	token, err := args.address("tokenAddress")
	if err != nil {
		return nil, err
	}
	if token == zeroAddress {
		return nil, ErrNoTokenAddress
	}
	base := eventBase{raw: l, token: token}

	switch EventName(event.Name) {
	case EventLaunch:
		e := LaunchEvent{eventBase: base}
		if e.Launcher, err = args.address("launcher"); err != nil {
			return nil, err
		}
		if e.TokenName, err = args.str("name"); err != nil {
			return nil, err
		}
		if e.Symbol, err = args.str("symbol"); err != nil {
			return nil, err
		}
		if e.TotalSupply, err = args.bigInt("totalSupply"); err != nil {
			return nil, err
		}
		size, ok := values["curveSize"].(uint8)
		if !ok {
			return nil, fmt.Errorf("argument curveSize has type %T", values["curveSize"])
		}
		e.CurveSize = size
		return e, nil
	case EventBuy:
		e := BuyEvent{eventBase: base}
		if e.Buyer, err = args.address("buyer"); err != nil {
			return nil, err
		}
		if e.QuoteIn, err = args.bigInt("ethAmountIn"); err != nil {
			return nil, err
		}
		if e.TokenOut, err = args.bigInt("tokenAmountOut"); err != nil {
			return nil, err
		}
		return e, nil
	case EventSell:
		e := SellEvent{eventBase: base}
		if e.Seller, err = args.address("seller"); err != nil {
			return nil, err
		}
		if e.TokenIn, err = args.bigInt("tokenAmountIn"); err != nil {
			return nil, err
		}
		if e.QuoteOut, err = args.bigInt("ethAmountOut"); err != nil {
			return nil, err
		}
		return e, nil
	case EventDonation:
		return DonationEvent{eventBase: base}, nil
	case EventComplete:
		return CompleteEvent{eventBase: base}, nil
	case EventGraduate:
		e := GraduateEvent{eventBase: base}
		if e.PairAddress, err = args.address("pairAddress"); err != nil {
			return nil, err
		}
		return e, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, event.Name)
}

var zeroAddress = common.NormalizeAddress(gethCommon.Address{}.Hex())

type eventArgs map[string]interface{}

func (a eventArgs) address(name string) (string, error) {
	v, ok := a[name].(gethCommon.Address)
	if !ok {
		return "", fmt.Errorf("argument %s has type %T", name, a[name])
	}
	return common.NormalizeAddress(v.Hex()), nil
}

func (a eventArgs) bigInt(name string) (*big.Int, error) {
	v, ok := a[name].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("argument %s has type %T", name, a[name])
	}
	return v, nil
}

func (a eventArgs) str(name string) (string, error) {
	v, ok := a[name].(string)
	if !ok {
		return "", fmt.Errorf("argument %s has type %T", name, a[name])
	}
	return v, nil
}
