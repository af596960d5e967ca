package replay

import (
	"fmt"
	"math/big"

	config "github.com/curvewatch/indexer/configs"
	"github.com/curvewatch/indexer/internal/common"
)

// CurveBook holds the configured constants per curve class.
type CurveBook struct {
	params map[common.CurveClass]common.CurveParams
}

func NewCurveBook(curves map[string]config.CurveConfig) (*CurveBook, error) {
	book := &CurveBook{params: make(map[common.CurveClass]common.CurveParams)}
	for class, c := range curves {
		var p common.CurveParams
		fields := []struct {
			name  string
			value string
			dst   **big.Int
		}{
			{"x0", c.X0, &p.X0},
			{"y0", c.Y0, &p.Y0},
			{"k", c.K, &p.K},
			{"x1", c.X1, &p.X1},
			{"y1", c.Y1, &p.Y1},
		}
		for _, f := range fields {
			if f.value == "" {
				continue
			}
			v, ok := new(big.Int).SetString(f.value, 10)
			if !ok {
				return nil, fmt.Errorf("curve %s: invalid %s %q", class, f.name, f.value)
			}
			*f.dst = v
		}
		if p.X0 == nil || p.X0.Sign() <= 0 || p.Y0 == nil || p.Y0.Sign() < 0 {
			return nil, fmt.Errorf("curve %s: x0 must be positive and y0 non-negative", class)
		}
		if p.K == nil {
			p.K = new(big.Int).Mul(p.X0, p.Y0)
		}
		book.params[common.CurveClass(class)] = p
	}
	return book, nil
}

func (b *CurveBook) Lookup(class common.CurveClass) (common.CurveParams, bool) {
	if b == nil {
		return common.CurveParams{}, false
	}
	p, ok := b.params[class]
	if !ok {
		return common.CurveParams{}, false
	}
	return p.Clone(), true
}

// Price is virtualY/virtualX in fixed point. A market without token-side
// reserve has no price.
func Price(virtualX, virtualY *big.Int) *big.Int {
	if virtualX == nil || virtualX.Sign() <= 0 {
		return new(big.Int)
	}
	p := new(big.Int).Mul(common.BigOrZero(virtualY), common.Scale)
	return p.Quo(p, virtualX)
}

func MarketCap(price, totalSupply *big.Int) *big.Int {
	mc := new(big.Int).Mul(common.BigOrZero(price), common.BigOrZero(totalSupply))
	return mc.Quo(mc, common.Scale)
}

// TotalRaised is the quote reserve accumulated above the initial y0.
func TotalRaised(virtualY, y0 *big.Int) *big.Int {
	raised := new(big.Int).Sub(common.BigOrZero(virtualY), common.BigOrZero(y0))
	if raised.Sign() < 0 {
		return new(big.Int)
	}
	return raised
}

// reprice recomputes every derived field from the reserves.
func reprice(t *common.TokenMarket) {
	t.Price = Price(t.VirtualX, t.VirtualY)
	t.MarketCap = MarketCap(t.Price, t.TotalSupply)
	t.TotalRaised = TotalRaised(t.VirtualY, t.CurveParams.Y0)
}

// reserveDelta is the net effect of a group's trades on the virtual reserves.
type reserveDelta struct {
	quote  *big.Int
	tokens *big.Int
	trades int
}

func newReserveDelta() *reserveDelta {
	return &reserveDelta{quote: new(big.Int), tokens: new(big.Int)}
}

// buy moves quote into the curve and tokens out of it.
func (d *reserveDelta) buy(quoteIn, tokenOut *big.Int) {
	d.quote.Add(d.quote, common.BigOrZero(quoteIn))
	d.tokens.Sub(d.tokens, common.BigOrZero(tokenOut))
	d.trades++
}

func (d *reserveDelta) sell(tokenIn, quoteOut *big.Int) {
	d.quote.Sub(d.quote, common.BigOrZero(quoteOut))
	d.tokens.Add(d.tokens, common.BigOrZero(tokenIn))
	d.trades++
}

// applyTo returns the reserves after the delta.
func (d *reserveDelta) applyTo(virtualX, virtualY *big.Int) (*big.Int, *big.Int) {
	x := new(big.Int).Add(common.BigOrZero(virtualX), d.tokens)
	y := new(big.Int).Add(common.BigOrZero(virtualY), d.quote)
	return x, y
}

func validReserves(x, y *big.Int) bool {
	return x != nil && y != nil && x.Sign() > 0 && y.Sign() >= 0
}
