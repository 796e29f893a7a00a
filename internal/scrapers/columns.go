package scrapers

import "strings"

// NSE has published equity bhav copies in two formats: the legacy
// cmDDMMMYYYYbhav.csv and the UDiFF BhavCopy_NSE_CM_*.csv introduced in
// 2024. Both carry the same fields under different headers, so parsing
// maps either header set onto one canonical row shape.

// Canonical field names used by the row parser.
const (
	colSymbol    = "symbol"
	colSeries    = "series"
	colDate      = "date"
	colOpen      = "open"
	colHigh      = "high"
	colLow       = "low"
	colClose     = "close"
	colLast      = "last"
	colPrevClose = "prev_close"
	colVolume    = "volume"
	colValue     = "value"
	colTrades    = "trades"
	colISIN      = "isin"
)

// oldBhavColumns maps legacy bhav copy headers to canonical names.
var oldBhavColumns = map[string]string{
	"SYMBOL":      colSymbol,
	"SERIES":      colSeries,
	"TIMESTAMP":   colDate,
	"OPEN":        colOpen,
	"HIGH":        colHigh,
	"LOW":         colLow,
	"CLOSE":       colClose,
	"LAST":        colLast,
	"PREVCLOSE":   colPrevClose,
	"TOTTRDQTY":   colVolume,
	"TOTTRDVAL":   colValue,
	"TOTALTRADES": colTrades,
	"ISIN":        colISIN,
}

// newBhavColumns maps UDiFF bhav copy headers to canonical names.
var newBhavColumns = map[string]string{
	"TckrSymb":        colSymbol,
	"SctySrs":         colSeries,
	"TradDt":          colDate,
	"OpnPric":         colOpen,
	"HghPric":         colHigh,
	"LwPric":          colLow,
	"ClsPric":         colClose,
	"LastPric":        colLast,
	"PrvsClsgPric":    colPrevClose,
	"TtlTradgVol":     colVolume,
	"TtlTrfVal":       colValue,
	"TtlNbOfTxsExctd": colTrades,
	"ISIN":            colISIN,
}

// NormalizeColumns resolves a CSV header row to a map from canonical
// field name to column index. Headers match case-insensitively since
// NSE's casing has drifted between publications. It tries both known
// header sets and returns ok=false when neither matches the mandatory
// fields.
func NormalizeColumns(header []string) (map[string]int, bool) {
	for _, colmap := range []map[string]string{newBhavColumns, oldBhavColumns} {
		folded := make(map[string]string, len(colmap))
		for name, canonical := range colmap {
			folded[strings.ToUpper(name)] = canonical
		}
		index := make(map[string]int, len(colmap))
		for i, raw := range header {
			name := strings.ToUpper(strings.TrimSpace(raw))
			if canonical, ok := folded[name]; ok {
				index[canonical] = i
			}
		}
		if hasMandatoryColumns(index) {
			return index, true
		}
	}
	return nil, false
}

func hasMandatoryColumns(index map[string]int) bool {
	for _, name := range []string{colSymbol, colSeries, colDate, colOpen, colHigh, colLow, colClose} {
		if _, ok := index[name]; !ok {
			return false
		}
	}
	return true
}
