// Package cashflow implements the reconciliation and derived-metrics engine:
// currency normalization, record unification, deduplication, running balance,
// aggregation and KPI/projection arithmetic.
//
// Everything in this package is a pure function of its inputs. Callers fetch
// the record sets, run a Pipeline and get a fresh Result every time; nothing
// is retained between runs.
package cashflow

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Currency codes known to the default rate table.
const (
	COP = "COP"
	USD = "USD"
)

// DefaultUSDRate is the fixed number of COP per USD used by reports.
const DefaultUSDRate = 4000

// ConversionStatus tags the outcome of a conversion.
type ConversionStatus int

const (
	// Unchanged means source and target currency were the same.
	Unchanged ConversionStatus = iota
	// Converted means a rate was applied.
	Converted
	// Unsupported means no rate exists for the pair and the input was passed through.
	Unsupported
)

func (s ConversionStatus) String() string {
	switch s {
	case Converted:
		return "converted"
	case Unsupported:
		return "unsupported"
	default:
		return "unchanged"
	}
}

// Conversion is the tagged result of converting an amount.
type Conversion struct {
	Amount float64
	Status ConversionStatus
	From   string
	To     string
}

// Normalizer converts amounts between a base (reporting) currency and a set of
// foreign currencies using fixed rates: one unit of foreign currency equals
// rate units of base currency, and the reverse direction divides.
type Normalizer struct {
	base  string
	rates map[string]decimal.Decimal
}

// NewNormalizer builds a normalizer for the given base currency and rate table.
func NewNormalizer(base string, rates map[string]float64) *Normalizer {
	n := &Normalizer{
		base:  normalizeCode(base),
		rates: make(map[string]decimal.Decimal, len(rates)),
	}
	for code, rate := range rates {
		if rate <= 0 {
			continue
		}
		n.rates[normalizeCode(code)] = decimal.NewFromFloat(rate)
	}
	return n
}

// DefaultNormalizer reports in COP with the fixed USD rate.
func DefaultNormalizer() *Normalizer {
	return NewNormalizer(COP, map[string]float64{USD: DefaultUSDRate})
}

// Base returns the reporting currency.
func (n *Normalizer) Base() string {
	return n.base
}

// Convert converts amount from one currency to another. An empty currency
// code is read as the base currency. Pairs without a rate come back
// Unsupported with the input amount untouched.
func (n *Normalizer) Convert(amount float64, from, to string) Conversion {
	from, to = n.codeOrBase(from), n.codeOrBase(to)
	c := Conversion{Amount: amount, Status: Unchanged, From: from, To: to}
	if from == to {
		return c
	}

	switch {
	case to == n.base:
		if rate, ok := n.rates[from]; ok {
			c.Amount = decimal.NewFromFloat(amount).Mul(rate).InexactFloat64()
			c.Status = Converted
			return c
		}
	case from == n.base:
		if rate, ok := n.rates[to]; ok {
			c.Amount = decimal.NewFromFloat(amount).Div(rate).InexactFloat64()
			c.Status = Converted
			return c
		}
	}

	c.Status = Unsupported
	return c
}

// ToBase converts amount from the given currency into the reporting currency.
func (n *Normalizer) ToBase(amount float64, from string) Conversion {
	return n.Convert(amount, from, n.base)
}

// Normalize is Convert without the tag. Unsupported pairs return the input.
func (n *Normalizer) Normalize(amount float64, from, to string) float64 {
	return n.Convert(amount, from, to).Amount
}

// Supports reports whether the currency can be converted to the base.
func (n *Normalizer) Supports(code string) bool {
	code = n.codeOrBase(code)
	if code == n.base {
		return true
	}
	_, ok := n.rates[code]
	return ok
}

func (n *Normalizer) codeOrBase(code string) string {
	code = normalizeCode(code)
	if code == "" {
		return n.base
	}
	return code
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
