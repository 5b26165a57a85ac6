// Package symbolmap holds the static mapping between exchange pair
// identifiers (e.g. "XBT/USD") and internal asset symbols (e.g. "BTC").
// It is data, not code: the connector never hardcodes pair names.
package symbolmap

// Entry describes one asset in the catalog.
type Entry struct {
	Symbol string // internal ticker
	Name   string // display name
	PairID string // exchange pair identifier
}

// catalog is the full seeded asset set. VET and NEO exist as assets but the
// exchange feed does not carry their pairs, so they are never subscribed.
var catalog = []Entry{
	{"BTC", "Bitcoin", "XBT/USD"},
	{"ETH", "Ethereum", "ETH/USD"},
	{"ADA", "Cardano", "ADA/USD"},
	{"XRP", "Ripple", "XRP/USD"},
	{"LTC", "Litecoin", "LTC/USD"},
	{"BCH", "Bitcoin Cash", "BCH/USD"},
	{"DOT", "Polkadot", "DOT/USD"},
	{"LINK", "Chainlink", "LINK/USD"},
	{"SOL", "Solana", "SOL/USD"},
	{"UNI", "Uniswap", "UNI/USD"},
	{"DOGE", "Dogecoin", "DOGE/USD"},
	{"TRX", "TRON", "TRX/USD"},
	{"ETC", "Ethereum Classic", "ETC/USD"},
	{"XLM", "Stellar", "XLM/USD"},
	{"EOS", "EOS", "EOS/USD"},
	{"XTZ", "Tezos", "XTZ/USD"},
	{"ATOM", "Cosmos", "ATOM/USD"},
	{"FIL", "Filecoin", "FIL/USD"},
	{"VET", "VeChain", "VET/USD"},
	{"NEO", "NEO", "NEO/USD"},
}

// unsubscribed pairs are seeded as assets but never sent in a feed
// subscription request.
var unsubscribed = map[string]bool{
	"VET/USD": true,
	"NEO/USD": true,
}

var (
	symbolByPair = make(map[string]string, len(catalog))
	pairBySymbol = make(map[string]string, len(catalog))
)

func init() {
	for _, e := range catalog {
		symbolByPair[e.PairID] = e.Symbol
		pairBySymbol[e.Symbol] = e.PairID
	}
}

// SymbolFor maps an exchange pair identifier to the internal symbol.
func SymbolFor(pairID string) (string, bool) {
	s, ok := symbolByPair[pairID]
	return s, ok
}

// PairFor maps an internal symbol to the exchange pair identifier.
func PairFor(symbol string) (string, bool) {
	p, ok := pairBySymbol[symbol]
	return p, ok
}

// Catalog returns the full asset seed list.
func Catalog() []Entry {
	out := make([]Entry, len(catalog))
	copy(out, catalog)
	return out
}

// SubscribedPairs returns the pair identifiers the feed subscribes to.
func SubscribedPairs() []string {
	pairs := make([]string, 0, len(catalog))
	for _, e := range catalog {
		if !unsubscribed[e.PairID] {
			pairs = append(pairs, e.PairID)
		}
	}
	return pairs
}
