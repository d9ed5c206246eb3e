package types

import (
	"fmt"
	"strings"

	coreerrors "localmoney/core/errors"
)

// FiatCurrency is an ISO 4217 code accepted for off-ledger payment.
type FiatCurrency string

const (
	FiatARS FiatCurrency = "ARS"
	FiatBRL FiatCurrency = "BRL"
	FiatCAD FiatCurrency = "CAD"
	FiatCLP FiatCurrency = "CLP"
	FiatCOP FiatCurrency = "COP"
	FiatEUR FiatCurrency = "EUR"
	FiatGBP FiatCurrency = "GBP"
	FiatMXN FiatCurrency = "MXN"
	FiatNGN FiatCurrency = "NGN"
	FiatUSD FiatCurrency = "USD"
	FiatVES FiatCurrency = "VES"
)

var supportedFiat = map[FiatCurrency]struct{}{
	FiatARS: {}, FiatBRL: {}, FiatCAD: {}, FiatCLP: {}, FiatCOP: {}, FiatEUR: {},
	FiatGBP: {}, FiatMXN: {}, FiatNGN: {}, FiatUSD: {}, FiatVES: {},
}

// ParseFiatCurrency normalises raw and rejects unsupported codes.
func ParseFiatCurrency(raw string) (FiatCurrency, error) {
	code := FiatCurrency(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := supportedFiat[code]; !ok {
		return "", fmt.Errorf("%w: %q", coreerrors.ErrInvalidFiatCurrency, raw)
	}
	return code, nil
}

// Valid reports whether f is a supported code.
func (f FiatCurrency) Valid() bool {
	_, ok := supportedFiat[f]
	return ok
}
