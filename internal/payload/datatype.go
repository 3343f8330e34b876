// Package payload defines the record types tickerscope caches on disk and the
// versioned envelope they are stored in.
//
// Every cached data type has exactly one concrete Go type implementing Value.
// Decoding is also the shape check: a blob that decodes without error is a
// well-formed value of the requested data type.
package payload

import "strings"

// DataType names a logical dataset, e.g. "price_data".
type DataType string

// Built-in data types produced by the market-data fetchers.
const (
	TypeCompanyInfo      DataType = "company_info"
	TypeIncomeStatements DataType = "income_statements"
	TypeBalanceSheets    DataType = "balance_sheets"
	TypeCashFlows        DataType = "cash_flows"
	TypeDividends        DataType = "dividends"
	TypePriceData        DataType = "price_data"
)

// Frequency distinguishes annual from quarterly financial statements.
type Frequency string

// Statement frequencies.
const (
	FrequencyYearly    Frequency = "yearly"
	FrequencyQuarterly Frequency = "quarterly"
)

// BuiltinDataTypes returns the data types with a dedicated record type, in a
// stable order.
func BuiltinDataTypes() []DataType {
	return []DataType{
		TypeCompanyInfo,
		TypeIncomeStatements,
		TypeBalanceSheets,
		TypeCashFlows,
		TypeDividends,
		TypePriceData,
	}
}

// IsBuiltin reports whether dt has a dedicated record type.
func (dt DataType) IsBuiltin() bool {
	for _, b := range BuiltinDataTypes() {
		if b == dt {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer.
func (dt DataType) String() string { return string(dt) }

// Normalize lower-cases and trims a data type name.
func Normalize(name string) DataType {
	return DataType(strings.ToLower(strings.TrimSpace(name)))
}
