package marketdata

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tradingcore/internal/coretypes"
)

// scale converts venue decimal strings to the internal
// fixed-point integer representation: all arithmetic is exact integer;
// conversions to/from venue strings happen only at adapter boundaries.
// shopspring/decimal is the one place in the core that does
// base-10-exact decimal math, exactly because string->int64 conversion at
// a tick precision is the textbook case the library exists for; everything
// past this boundary is plain integer arithmetic.
type scale struct {
	priceIncrement decimal.Decimal // smallest price increment, e.g. 0.01
	lotSize        decimal.Decimal // smallest quantity increment, e.g. 0.001
}

func newScale(priceIncrement, lotSize string) (scale, error) {
	pi, err := decimal.NewFromString(priceIncrement)
	if err != nil {
		return scale{}, fmt.Errorf("marketdata: bad price increment %q: %w", priceIncrement, err)
	}
	ls, err := decimal.NewFromString(lotSize)
	if err != nil {
		return scale{}, fmt.Errorf("marketdata: bad lot size %q: %w", lotSize, err)
	}
	if pi.Sign() <= 0 || ls.Sign() <= 0 {
		return scale{}, fmt.Errorf("marketdata: price increment and lot size must be positive")
	}
	return scale{priceIncrement: pi, lotSize: ls}, nil
}

// parsePrice converts a venue price string into the number of price
// increments it represents, rounding to the nearest tick.
func (s scale) parsePrice(str string) (coretypes.Price, error) {
	d, err := decimal.NewFromString(str)
	if err != nil {
		return coretypes.InvalidPrice, fmt.Errorf("parse price %q: %w", str, err)
	}
	ticks := d.DivRound(s.priceIncrement, 0)
	return coretypes.Price(ticks.IntPart()), nil
}

// parseQty converts a venue quantity string into the number of lot units
// it represents, rounding to the nearest lot.
func (s scale) parseQty(str string) (coretypes.Qty, error) {
	d, err := decimal.NewFromString(str)
	if err != nil {
		return coretypes.InvalidQty, fmt.Errorf("parse qty %q: %w", str, err)
	}
	if d.Sign() < 0 {
		return coretypes.InvalidQty, fmt.Errorf("negative qty %q", str)
	}
	lots := d.DivRound(s.lotSize, 0)
	return coretypes.Qty(lots.IntPart()), nil
}

// parseLevels converts a venue [price_string, quantity_string] array, as
// defined for REST snapshot bids/asks, into PriceLevels.
func (s scale) parseLevels(raw [][2]string) ([]coretypes.PriceLevel, error) {
	out := make([]coretypes.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		price, err := s.parsePrice(pair[0])
		if err != nil {
			return nil, err
		}
		qty, err := s.parseQty(pair[1])
		if err != nil {
			return nil, err
		}
		out = append(out, coretypes.PriceLevel{Price: price, Quantity: qty})
	}
	return out, nil
}
