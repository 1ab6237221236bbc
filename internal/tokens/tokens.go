package tokens

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Token describes one tradable asset: its on-chain contract and the
// identifier used by the price-history provider.
type Token struct {
	Symbol      string
	Name        string
	CoinGeckoID string
	Address     common.Address
}

// FundingAsset is the stable asset every trade is priced in.
var FundingAsset = Token{
	Symbol:      "USDT",
	Name:        "Tether",
	CoinGeckoID: "tether",
	Address:     common.HexToAddress("0xbe138aD5D41FDc392AE0B61b09421987C1966CC3"),
}

// Catalog is the fixed set of tradable tokens. Wrapped tokens may be
// referred to by their original name in user prompts.
var Catalog = []Token{
	{
		Symbol:      "DUCK",
		Name:        "Duckchain Token",
		CoinGeckoID: "duckchain-token",
		Address:     common.HexToAddress("0xdA65892eA771d3268610337E9964D916028B7dAD"),
	},
	{
		Symbol:      "WTON",
		Name:        "Wrapped Toncoin",
		CoinGeckoID: "toncoin",
		Address:     common.HexToAddress("0x7F9308E8d724e724EC31395f3af52e0593BB2e3f"),
	},
}

// BySymbol looks a token up by its symbol, case-insensitively.
func BySymbol(symbol string) (Token, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	for _, t := range Catalog {
		if t.Symbol == symbol {
			return t, true
		}
	}
	return Token{}, false
}

// Symbols returns the catalog's symbols in declaration order.
func Symbols() []string {
	out := make([]string, len(Catalog))
	for i, t := range Catalog {
		out[i] = t.Symbol
	}
	return out
}
