package notify

import (
	"math/big"
	"time"

	"github.com/curvewatch/indexer/internal/common"
	"github.com/shopspring/decimal"
)

type UserSummary struct {
	Address      string `json:"address"`
	Username     string `json:"username,omitempty"`
	ProfileImage string `json:"profileImage,omitempty"`
}

type TokenSummary struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Ticker  string `json:"ticker"`
}

type TokenLaunchedPayload struct {
	Address     string          `json:"address"`
	Creator     UserSummary     `json:"creator"`
	Name        string          `json:"name"`
	Ticker      string          `json:"ticker"`
	TotalSupply string          `json:"tokenSupply"`
	Curve       string          `json:"bondingCurve"`
	Price       decimal.Decimal `json:"tokenPrice"`
	MarketCap   decimal.Decimal `json:"marketCap"`
	TotalRaised decimal.Decimal `json:"totalRaised"`
	Timestamp   time.Time       `json:"timestamp"`
}

type TradePayload struct {
	Token       *TokenSummary         `json:"token,omitempty"`
	Trader      UserSummary           `json:"trader"`
	QuoteAmount decimal.Decimal       `json:"quoteAmount"`
	TokenAmount decimal.Decimal       `json:"tokenAmount"`
	Type        common.TradeDirection `json:"type"`
	Timestamp   time.Time             `json:"timestamp"`
	TxHash      string                `json:"txHash"`
}

type CurvePayload struct {
	K        string `json:"k"`
	X0       string `json:"x0"`
	Y0       string `json:"y0"`
	X1       string `json:"x1"`
	Y1       string `json:"y1"`
	VirtualX string `json:"virtualX"`
	VirtualY string `json:"virtualY"`
}

type TokenUpdatePayload struct {
	Address     string          `json:"address"`
	TotalRaised decimal.Decimal `json:"totalRaised"`
	Price       decimal.Decimal `json:"tokenPrice"`
	MarketCap   decimal.Decimal `json:"marketCap"`
	Curve       CurvePayload    `json:"bondingCurveParams"`
	Volume24h   decimal.Decimal `json:"volume24"`
}

type HoldersUpdatedPayload struct {
	Address string `json:"address"`
}

type GraduatePayload struct {
	Address     string `json:"address"`
	PairAddress string `json:"pairAddress"`
}

func summarizeUser(u *common.User) UserSummary {
	if u == nil {
		return UserSummary{}
	}
	return UserSummary{Address: u.Address, Username: u.Username, ProfileImage: u.ProfileImage}
}

func bigString(v *big.Int) string {
	return common.BigOrZero(v).String()
}

// TokenLaunched goes to the public feed and to the creator.
func TokenLaunched(t *common.TokenMarket, creator *common.User, at time.Time) Notification {
	targets := []Target{Public()}
	if creator != nil {
		targets = append(targets, User(creator.Address))
	}
	return Notification{
		Event:        EventTokenLaunched,
		TokenAddress: t.Address,
		Targets:      targets,
		Data: TokenLaunchedPayload{
			Address:     t.Address,
			Creator:     summarizeUser(creator),
			Name:        t.Name,
			Ticker:      t.Ticker,
			TotalSupply: bigString(t.TotalSupply),
			Curve:       string(t.Curve),
			Price:       common.FormatUnits(t.Price),
			MarketCap:   common.FormatUnits(t.MarketCap),
			TotalRaised: common.FormatUnits(t.TotalRaised),
			Timestamp:   at,
		},
	}
}

// Trade returns the public notification, carrying the token summary, and the
// token and trader scoped one, which omits it.
func Trade(t *common.TokenMarket, trader *common.User, trade common.TradeRecord) []Notification {
	base := TradePayload{
		Trader:      summarizeUser(trader),
		QuoteAmount: common.FormatUnits(trade.QuoteAmount),
		TokenAmount: common.FormatUnits(trade.TokenAmount),
		Type:        trade.Direction,
		Timestamp:   trade.Timestamp,
		TxHash:      trade.TransactionHash,
	}
	public := base
	public.Token = &TokenSummary{Address: t.Address, Name: t.Name, Ticker: t.Ticker}

	scoped := []Target{Token(t.Address)}
	if trader != nil {
		scoped = append(scoped, User(trader.Address))
	}
	return []Notification{
		{Event: EventTrade, TokenAddress: t.Address, Targets: []Target{Public()}, Data: public},
		{Event: EventTrade, TokenAddress: t.Address, Targets: scoped, Data: base},
	}
}

func HoldersUpdated(tokenAddress string) Notification {
	return Notification{
		Event:        EventTokenHoldersUpdated,
		TokenAddress: tokenAddress,
		Targets:      []Target{Token(tokenAddress)},
		Data:         HoldersUpdatedPayload{Address: tokenAddress},
	}
}

func TokenUpdate(t *common.TokenMarket, volume24h decimal.Decimal) Notification {
	p := t.CurveParams
	return Notification{
		Event:        EventTokenUpdate,
		TokenAddress: t.Address,
		Targets:      []Target{Token(t.Address), Public()},
		Data: TokenUpdatePayload{
			Address:     t.Address,
			TotalRaised: common.FormatUnits(t.TotalRaised),
			Price:       common.FormatUnits(t.Price),
			MarketCap:   common.FormatUnits(t.MarketCap),
			Curve: CurvePayload{
				K:        bigString(p.K),
				X0:       bigString(p.X0),
				Y0:       bigString(p.Y0),
				X1:       bigString(p.X1),
				Y1:       bigString(p.Y1),
				VirtualX: bigString(t.VirtualX),
				VirtualY: bigString(t.VirtualY),
			},
			Volume24h: volume24h,
		},
	}
}

func Graduate(t *common.TokenMarket) Notification {
	return Notification{
		Event:        EventGraduate,
		TokenAddress: t.Address,
		Targets:      []Target{Token(t.Address), Public()},
		Data:         GraduatePayload{Address: t.Address, PairAddress: t.PairAddress},
	}
}
