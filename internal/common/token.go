package common

import (
	"math/big"
	"time"
)

type CurveClass string

const (
	CurveBeginner CurveClass = "beginner"
	CurvePro      CurveClass = "pro"
)

// CurveClassFromSize maps the on-chain curveSize launch argument to a curve class.
func CurveClassFromSize(size uint8) CurveClass {
	if size == 0 {
		return CurveBeginner
	}
	return CurvePro
}

// CurveParams are the constants of a bonding curve, in base units.
type CurveParams struct {
	K  *big.Int `json:"k"`
	X0 *big.Int `json:"x0"`
	Y0 *big.Int `json:"y0"`
	X1 *big.Int `json:"x1"`
	Y1 *big.Int `json:"y1"`
}

func (c CurveParams) Clone() CurveParams {
	return CurveParams{K: CloneBig(c.K), X0: CloneBig(c.X0), Y0: CloneBig(c.Y0), X1: CloneBig(c.X1), Y1: CloneBig(c.Y1)}
}

// GraduationState tracks the graduation transaction of a completed market.
// It only moves forward, except that a failed send returns Submitting to Due.
type GraduationState int

const (
	GraduationNone GraduationState = iota
	GraduationDue
	GraduationSubmitting
	GraduationSubmitted
	GraduationReverted
)

func (s GraduationState) String() string {
	switch s {
	case GraduationDue:
		return "due"
	case GraduationSubmitting:
		return "submitting"
	case GraduationSubmitted:
		return "submitted"
	case GraduationReverted:
		return "reverted"
	default:
		return "none"
	}
}

// TokenMarket is the derived state of one bonding-curve market.
// VirtualX is the token-side reserve, VirtualY the quote-side reserve. Price is
// VirtualY/VirtualX scaled by Scale; MarketCap and TotalRaised are quote base units.
type TokenMarket struct {
	ID               int64           `json:"id"`
	Address          string          `json:"address"`
	Name             string          `json:"name"`
	Ticker           string          `json:"ticker"`
	TotalSupply      *big.Int        `json:"total_supply"`
	Curve            CurveClass      `json:"curve"`
	CurveParams      CurveParams     `json:"curve_params"`
	VirtualX         *big.Int        `json:"virtual_x"`
	VirtualY         *big.Int        `json:"virtual_y"`
	Price            *big.Int        `json:"price"`
	MarketCap        *big.Int        `json:"market_cap"`
	TotalRaised      *big.Int        `json:"total_raised"`
	Launched         bool            `json:"launched"`
	Graduated        bool            `json:"graduated"`
	Donated          bool            `json:"donated"`
	PairAddress      string          `json:"pair_address,omitempty"`
	GraduationTxHash string          `json:"graduation_tx_hash,omitempty"`
	GraduationState  GraduationState `json:"graduation_state"`
	CreatorID        int64           `json:"creator_id"`
	TransactionHash  string          `json:"transaction_hash"`
	LaunchedAt       *time.Time      `json:"launched_at,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (t *TokenMarket) Clone() *TokenMarket {
	if t == nil {
		return nil
	}
	c := *t
	c.TotalSupply = CloneBig(t.TotalSupply)
	c.CurveParams = t.CurveParams.Clone()
	c.VirtualX = CloneBig(t.VirtualX)
	c.VirtualY = CloneBig(t.VirtualY)
	c.Price = CloneBig(t.Price)
	c.MarketCap = CloneBig(t.MarketCap)
	c.TotalRaised = CloneBig(t.TotalRaised)
	if t.LaunchedAt != nil {
		at := *t.LaunchedAt
		c.LaunchedAt = &at
	}
	return &c
}
