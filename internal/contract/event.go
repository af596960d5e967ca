package contract

import (
	"math/big"

	"github.com/curvewatch/indexer/internal/common"
)

type EventName string

const (
	EventLaunch   EventName = "Launch"
	EventBuy      EventName = "Buy"
	EventSell     EventName = "Sell"
	EventDonation EventName = "Donation"
	EventComplete EventName = "Complete"
	EventGraduate EventName = "Graduate"
)

// Event is a decoded contract log. The set of implementations is closed:
// LaunchEvent, BuyEvent, SellEvent, DonationEvent, CompleteEvent, GraduateEvent.
type Event interface {
	Name() EventName
	// TokenAddress is the lowercased market the event belongs to.
	TokenAddress() string
	Log() *common.RawLog
	sealed()
}

type eventBase struct {
	raw   *common.RawLog
	token string
}

func (e eventBase) TokenAddress() string { return e.token }
func (e eventBase) Log() *common.RawLog  { return e.raw }
func (eventBase) sealed()                {}

type LaunchEvent struct {
	eventBase
	Launcher    string
	TokenName   string
	Symbol      string
	TotalSupply *big.Int
	CurveSize   uint8
}

func (LaunchEvent) Name() EventName { return EventLaunch }

type BuyEvent struct {
	eventBase
	Buyer    string
	QuoteIn  *big.Int
	TokenOut *big.Int
}

func (BuyEvent) Name() EventName { return EventBuy }

type SellEvent struct {
	eventBase
	Seller   string
	TokenIn  *big.Int
	QuoteOut *big.Int
}

func (SellEvent) Name() EventName { return EventSell }

type DonationEvent struct {
	eventBase
}

func (DonationEvent) Name() EventName { return EventDonation }

type CompleteEvent struct {
	eventBase
}

func (CompleteEvent) Name() EventName { return EventComplete }

type GraduateEvent struct {
	eventBase
	PairAddress string
}

func (GraduateEvent) Name() EventName { return EventGraduate }
