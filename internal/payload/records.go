package payload

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Value is implemented by every cacheable record type.
type Value interface {
	DataType() DataType
}

// CompanyInfo is the company profile and headline metrics for one ticker.
type CompanyInfo struct {
	Ticker      string              `json:"ticker"`
	CompanyName string              `json:"company_name,omitempty"`
	Exchange    string              `json:"exchange,omitempty"`
	Currency    string              `json:"currency,omitempty"`
	Country     string              `json:"country,omitempty"`
	Website     string              `json:"website,omitempty"`
	Sector      string              `json:"sector,omitempty"`
	Industry    string              `json:"industry,omitempty"`
	Employees   int64               `json:"employees,omitempty"`
	MarketCap   decimal.NullDecimal `json:"market_cap"`
	SharesOut   decimal.NullDecimal `json:"shares_outstanding"`
	TrailingPE  decimal.NullDecimal `json:"trailing_pe"`
	Beta        decimal.NullDecimal `json:"beta"`
}

// DataType implements Value.
func (CompanyInfo) DataType() DataType { return TypeCompanyInfo }

// IncomeStatement is one reporting period of an income statement.
// LineItems holds the less common rows keyed by their snake_case name.
type IncomeStatement struct {
	Ticker          string                     `json:"ticker"`
	Frequency       Frequency                  `json:"frequency"`
	PeriodEndDate   string                     `json:"period_end_date,omitempty"`
	TotalRevenue    decimal.NullDecimal        `json:"total_revenue"`
	CostOfRevenue   decimal.NullDecimal        `json:"cost_of_revenue"`
	GrossProfit     decimal.NullDecimal        `json:"gross_profit"`
	OperatingIncome decimal.NullDecimal        `json:"operating_income"`
	NetIncome       decimal.NullDecimal        `json:"net_income"`
	EBITDA          decimal.NullDecimal        `json:"ebitda"`
	DilutedEPS      decimal.NullDecimal        `json:"diluted_eps"`
	DilutedShares   decimal.NullDecimal        `json:"diluted_average_shares"`
	LineItems       map[string]decimal.Decimal `json:"line_items,omitempty"`
}

// IncomeStatements is the cached form of TypeIncomeStatements.
type IncomeStatements []IncomeStatement

// DataType implements Value.
func (IncomeStatements) DataType() DataType { return TypeIncomeStatements }

// BalanceSheet is one reporting period of a balance sheet.
type BalanceSheet struct {
	Ticker                 string                     `json:"ticker"`
	Frequency              Frequency                  `json:"frequency"`
	PeriodEndDate          string                     `json:"period_end_date,omitempty"`
	TotalAssets            decimal.NullDecimal        `json:"total_assets"`
	CurrentAssets          decimal.NullDecimal        `json:"current_assets"`
	CashAndCashEquivalents decimal.NullDecimal        `json:"cash_and_cash_equivalents"`
	TotalLiabilities       decimal.NullDecimal        `json:"total_liabilities_net_minority_interest"`
	CurrentLiabilities     decimal.NullDecimal        `json:"current_liabilities"`
	TotalDebt              decimal.NullDecimal        `json:"total_debt"`
	StockholdersEquity     decimal.NullDecimal        `json:"stockholders_equity"`
	OrdinarySharesNumber   decimal.NullDecimal        `json:"ordinary_shares_number"`
	LineItems              map[string]decimal.Decimal `json:"line_items,omitempty"`
}

// BalanceSheets is the cached form of TypeBalanceSheets.
type BalanceSheets []BalanceSheet

// DataType implements Value.
func (BalanceSheets) DataType() DataType { return TypeBalanceSheets }

// CashFlow is one reporting period of a cash flow statement.
type CashFlow struct {
	Ticker             string                     `json:"ticker"`
	Frequency          Frequency                  `json:"frequency"`
	PeriodEndDate      string                     `json:"period_end_date,omitempty"`
	OperatingCashFlow  decimal.NullDecimal        `json:"operating_cash_flow"`
	CapitalExpenditure decimal.NullDecimal        `json:"capital_expenditure"`
	FreeCashFlow       decimal.NullDecimal        `json:"free_cash_flow"`
	InvestingCashFlow  decimal.NullDecimal        `json:"investing_cash_flow"`
	FinancingCashFlow  decimal.NullDecimal        `json:"financing_cash_flow"`
	CashDividendsPaid  decimal.NullDecimal        `json:"cash_dividends_paid"`
	StockRepurchases   decimal.NullDecimal        `json:"repurchase_of_capital_stock"`
	LineItems          map[string]decimal.Decimal `json:"line_items,omitempty"`
}

// CashFlows is the cached form of TypeCashFlows.
type CashFlows []CashFlow

// DataType implements Value.
func (CashFlows) DataType() DataType { return TypeCashFlows }

// Dividend is a single dividend payment.
type Dividend struct {
	Ticker string          `json:"ticker"`
	ExDate time.Time       `json:"ex_date"`
	Amount decimal.Decimal `json:"amount"`
}

// Dividends is the cached form of TypeDividends. An empty history is valid:
// plenty of tickers never paid a dividend.
type Dividends []Dividend

// DataType implements Value.
func (Dividends) DataType() DataType { return TypeDividends }

// PriceBar is one OHLCV row.
type PriceBar struct {
	Date     time.Time       `json:"date"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	AdjClose decimal.Decimal `json:"adj_close"`
	Volume   int64           `json:"volume"`
}

// PriceHistory is the cached form of TypePriceData.
type PriceHistory []PriceBar

// DataType implements Value.
func (PriceHistory) DataType() DataType { return TypePriceData }

// Raw carries data types declared in configuration that have no dedicated
// record type. Data must be a non-null JSON document.
type Raw struct {
	Type DataType
	Data json.RawMessage
}

// DataType implements Value.
func (r Raw) DataType() DataType { return r.Type }
