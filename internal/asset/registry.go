package asset

// ID maps asset symbols to numeric IDs for compact keys and persistence.
type ID uint16

const (
	// UniBTC is the primary BTC-pegged deposit asset (8 decimals).
	UniBTC ID = 1
	// StCORE is the default secondary staking-derivative asset (18 decimals).
	StCORE ID = 2
	// CORE is the intermediate pricing unit for two-hop conversion; it is
	// never held in reserve.
	CORE ID = 3
)

type Info struct {
	ID       ID
	Symbol   string
	Decimals uint8
}

var (
	symbolToID = map[string]ID{
		"uniBTC": UniBTC,
		"stCORE": StCORE,
		"CORE":   CORE,
	}
	registry = map[ID]Info{
		UniBTC: {ID: UniBTC, Symbol: "uniBTC", Decimals: 8},
		StCORE: {ID: StCORE, Symbol: "stCORE", Decimals: 18},
		CORE:   {ID: CORE, Symbol: "CORE", Decimals: 18},
	}
)

// Lookup resolves a symbol to its ID.
func Lookup(symbol string) (ID, bool) {
	id, ok := symbolToID[symbol]
	return id, ok
}

// Get returns the registry entry for an ID.
func Get(id ID) (Info, bool) {
	info, ok := registry[id]
	return info, ok
}

// Symbol returns the symbol for an ID, or "unknown".
func Symbol(id ID) string {
	if info, ok := registry[id]; ok {
		return info.Symbol
	}
	return "unknown"
}

// Decimals returns the native decimals for an ID. Unknown IDs report the
// canonical 18 so conversions stay well-defined.
func Decimals(id ID) uint8 {
	if info, ok := registry[id]; ok {
		return info.Decimals
	}
	return 18
}
