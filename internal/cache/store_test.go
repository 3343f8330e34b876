package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rshade/tickerscope/internal/logging"
	"github.com/rshade/tickerscope/internal/payload"
)

//nolint:gochecknoglobals // test option
var decimalEqual = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

// testPolicy is a Policy with per-type overrides and a 24h default TTL.
type testPolicy struct {
	mu       sync.Mutex
	dir      string
	ttl      map[payload.DataType]int
	disabled map[payload.DataType]bool
	extra    []payload.DataType
}

func newTestPolicy(dir string) *testPolicy {
	return &testPolicy{
		dir:      dir,
		ttl:      make(map[payload.DataType]int),
		disabled: make(map[payload.DataType]bool),
	}
}

func (p *testPolicy) Enabled(dt payload.DataType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.disabled[dt]
}

func (p *testPolicy) TTLHours(dt payload.DataType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.ttl[dt]; ok {
		return v
	}
	return DefaultTTLHours
}

func (p *testPolicy) Directory() string { return p.dir }

func (p *testPolicy) KnownDataTypes() []payload.DataType {
	return append(payload.BuiltinDataTypes(), p.extra...)
}

func (p *testPolicy) setEnabled(dt payload.DataType, enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disabled[dt] = !enabled
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, policy Policy, clock *fakeClock, opts ...Option) *Store {
	t.Helper()
	base := []Option{
		WithClock(clock.Now),
		WithLogger(zerolog.Nop()),
		WithLockTimeout(testLockTimeout),
	}
	s := New(context.Background(), policy, append(base, opts...)...)
	t.Cleanup(func() { _ = s.Close() })
	require.True(t, s.Ready())
	return s
}

func priceHistory(closes ...int64) payload.PriceHistory {
	day := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	out := make(payload.PriceHistory, 0, len(closes))
	for i, c := range closes {
		out = append(out, payload.PriceBar{
			Date:   day.AddDate(0, 0, i),
			Close:  decimal.NewFromInt(c),
			Volume: 1000 + int64(i),
		})
	}
	return out
}

func companyInfo(ticker, name string) payload.CompanyInfo {
	return payload.CompanyInfo{Ticker: ticker, CompanyName: name}
}

func blobFiles(t *testing.T, base string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(base, blobDirName, "*", "*"+blobExtension))
	require.NoError(t, err)
	return matches
}

func TestStore_RoundTrip(t *testing.T) {
	values := []payload.Value{
		companyInfo("AAPL", "Apple Inc."),
		payload.IncomeStatements{{
			Ticker:       "AAPL",
			Frequency:    payload.FrequencyYearly,
			TotalRevenue: decimal.NewNullDecimal(decimal.RequireFromString("391035000000")),
		}},
		payload.BalanceSheets{{Ticker: "AAPL", Frequency: payload.FrequencyQuarterly}},
		payload.CashFlows{{Ticker: "AAPL", Frequency: payload.FrequencyYearly}},
		payload.Dividends{{Ticker: "AAPL", ExDate: time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC), Amount: decimal.RequireFromString("0.25")}},
		priceHistory(1, 2, 3),
	}

	for name := range backends() {
		for _, compress := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s/compress=%t", name, compress), func(t *testing.T) {
				dir := t.TempDir()
				s := newTestStore(t, newTestPolicy(dir), newFakeClock(),
					WithIndexBackend(name), WithCompression(compress))
				ctx := context.Background()

				for _, v := range values {
					p := KeyParams{Ticker: "AAPL", DataType: v.DataType(), Frequency: "yearly"}
					require.True(t, s.Put(ctx, p, v), "put %s", v.DataType())

					got, ok := s.Get(ctx, p)
					require.True(t, ok, "get %s", v.DataType())
					if diff := cmp.Diff(v, got, decimalEqual); diff != "" {
						t.Errorf("%s mismatch (-want +got):\n%s", v.DataType(), diff)
					}
				}

				if compress {
					for _, path := range blobFiles(t, dir) {
						data, err := os.ReadFile(path)
						require.NoError(t, err)
						assert.Equal(t, []byte{0x1f, 0x8b}, data[:2], path)
					}
				}
			})
		}
	}
}

func TestStore_CaseInsensitiveTicker(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, newTestPolicy(dir), newFakeClock())
	ctx := context.Background()

	want := priceHistory(1, 2, 3)
	require.True(t, s.Put(ctx, KeyParams{Ticker: "aapl", DataType: payload.TypePriceData, Period: "1y"}, want))

	got, ok := s.Get(ctx, KeyParams{Ticker: "AAPL", DataType: payload.TypePriceData, Period: "1y"})
	require.True(t, ok)
	if diff := cmp.Diff(payload.Value(want), got, decimalEqual); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	_, ok = s.Get(ctx, KeyParams{Ticker: "AAPL", DataType: payload.TypePriceData, Period: "5y"})
	assert.False(t, ok)
}

func TestStore_IdempotentOverwrite(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, newTestPolicy(dir), newFakeClock())
	ctx := context.Background()
	p := KeyParams{Ticker: "MSFT", DataType: payload.TypeCompanyInfo}

	require.True(t, s.Put(ctx, p, companyInfo("MSFT", "x1")))
	require.True(t, s.Put(ctx, p, companyInfo("MSFT", "x2")))

	entries := s.List(ctx, "MSFT", "")
	require.Len(t, entries, 1)
	assert.Equal(t, "MSFT_company_info", entries[0].CacheKey)
	assert.Len(t, blobFiles(t, dir), 1)

	blob, err := os.ReadFile(entries[0].FilePath)
	require.NoError(t, err)
	v, err := payload.Decode(blob, payload.TypeCompanyInfo)
	require.NoError(t, err)
	assert.Equal(t, "x2", v.(payload.CompanyInfo).CompanyName)
}

func TestStore_EvictByTicker(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, newTestPolicy(dir), newFakeClock())
	ctx := context.Background()

	require.True(t, s.Put(ctx, KeyParams{Ticker: "AAPL", DataType: payload.TypePriceData}, priceHistory(1)))
	require.True(t, s.Put(ctx, KeyParams{Ticker: "AAPL", DataType: payload.TypePriceData, Period: "5y"}, priceHistory(2)))
	require.True(t, s.Put(ctx, KeyParams{Ticker: "AAPL", DataType: payload.TypeCompanyInfo}, companyInfo("AAPL", "Apple")))
	require.True(t, s.Put(ctx, KeyParams{Ticker: "GOOGL", DataType: payload.TypePriceData}, priceHistory(3)))

	assert.Equal(t, 3, s.EvictByTicker(ctx, "aapl"))
	assert.Empty(t, s.List(ctx, "AAPL", ""))
	assert.Len(t, blobFiles(t, dir), 1)

	_, ok := s.Get(ctx, KeyParams{Ticker: "GOOGL", DataType: payload.TypePriceData})
	assert.True(t, ok)
	assert.Equal(t, 0, s.EvictByTicker(ctx, "AAPL"))
}

func TestStore_EvictExpired(t *testing.T) {
	dir := t.TempDir()
	policy := newTestPolicy(dir)
	policy.ttl[payload.TypeCompanyInfo] = 1
	policy.ttl[payload.TypePriceData] = 48
	clock := newFakeClock()
	s := newTestStore(t, policy, clock)
	ctx := context.Background()

	require.True(t, s.Put(ctx, KeyParams{Ticker: "IBM", DataType: payload.TypeCompanyInfo}, companyInfo("IBM", "IBM")))
	require.True(t, s.Put(ctx, KeyParams{Ticker: "IBM", DataType: payload.TypePriceData}, priceHistory(1)))
	clock.Advance(2 * time.Hour)

	assert.Equal(t, 1, s.EvictExpired(ctx))
	remaining := s.List(ctx, "", "")
	require.Len(t, remaining, 1)
	assert.Equal(t, payload.TypePriceData, remaining[0].DataType)
	assert.Len(t, blobFiles(t, dir), 1)
}

func TestStore_EvictExpiredRemovesOrphans(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, newTestPolicy(dir), newFakeClock())
	ctx := context.Background()

	require.True(t, s.Put(ctx, KeyParams{Ticker: "IBM", DataType: payload.TypePriceData}, priceHistory(1)))
	require.True(t, s.Put(ctx, KeyParams{Ticker: "HPQ", DataType: payload.TypePriceData}, priceHistory(1)))
	require.NoError(t, os.Remove(s.List(ctx, "HPQ", "")[0].FilePath))

	assert.Equal(t, 1, s.EvictExpired(ctx))
	assert.Len(t, s.List(ctx, "", ""), 1)
}

func TestStore_InvalidTickerRejected(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, newTestPolicy(dir), newFakeClock())
	ctx := context.Background()

	assert.False(t, s.Put(ctx, KeyParams{Ticker: "@@@", DataType: payload.TypeCompanyInfo}, companyInfo("@@@", "bad")))
	assert.Empty(t, blobFiles(t, dir))
	assert.Empty(t, s.List(ctx, "", ""))
	assert.Equal(t, Counters{}, s.Counters())
}

func TestStore_ZeroTTLAlwaysMisses(t *testing.T) {
	dir := t.TempDir()
	policy := newTestPolicy(dir)
	policy.ttl[payload.TypePriceData] = 0
	s := newTestStore(t, policy, newFakeClock())
	ctx := context.Background()
	p := KeyParams{Ticker: "TSLA", DataType: payload.TypePriceData}

	require.True(t, s.Put(ctx, p, priceHistory(1)))
	_, ok := s.Get(ctx, p)
	assert.False(t, ok)
	assert.Empty(t, s.List(ctx, "", ""))
	assert.Empty(t, blobFiles(t, dir))
}

func TestStore_ExpiresAfterTTL(t *testing.T) {
	dir := t.TempDir()
	policy := newTestPolicy(dir)
	policy.ttl[payload.TypeCompanyInfo] = 168
	clock := newFakeClock()
	s := newTestStore(t, policy, clock)
	ctx := context.Background()
	p := KeyParams{Ticker: "NVDA", DataType: payload.TypeCompanyInfo}

	require.True(t, s.Put(ctx, p, companyInfo("NVDA", "NVIDIA")))
	entry := s.List(ctx, "NVDA", "")[0]
	assert.Equal(t, 168*time.Hour, entry.ExpiresAt.Sub(entry.CreatedAt))

	clock.Advance(167 * time.Hour)
	_, ok := s.Get(ctx, p)
	assert.True(t, ok)

	clock.Advance(time.Hour)
	_, ok = s.Get(ctx, p)
	assert.False(t, ok)
}

func TestStore_OrphanSelfHeal(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, newTestPolicy(dir), newFakeClock())
	ctx := context.Background()
	p := KeyParams{Ticker: "AMZN", DataType: payload.TypeDividends}

	require.True(t, s.Put(ctx, p, payload.Dividends{}))
	require.NoError(t, os.Remove(s.List(ctx, "AMZN", "")[0].FilePath))

	_, ok := s.Get(ctx, p)
	assert.False(t, ok)
	assert.Empty(t, s.List(ctx, "AMZN", ""))
}

func TestStore_CorruptBlobEvicted(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"garbage", []byte("definitely not json")},
		{"empty list", []byte(`{"schema":"1.0.0","data_type":"price_data","data":[]}`)},
		{"wrong data type", []byte(`{"schema":"1.0.0","data_type":"dividends","data":[]}`)},
		{"future schema", []byte(`{"schema":"2.0.0","data_type":"price_data","data":[{}]}`)},
		{"empty file", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			s := newTestStore(t, newTestPolicy(dir), newFakeClock())
			ctx := context.Background()
			p := KeyParams{Ticker: "META", DataType: payload.TypePriceData}

			require.True(t, s.Put(ctx, p, priceHistory(5)))
			path := s.List(ctx, "META", "")[0].FilePath
			require.NoError(t, os.WriteFile(path, tt.data, 0o600))

			_, ok := s.Get(ctx, p)
			assert.False(t, ok)
			assert.Empty(t, s.List(ctx, "", ""))
			assert.NoFileExists(t, path)
		})
	}
}

func TestStore_DisabledType(t *testing.T) {
	dir := t.TempDir()
	policy := newTestPolicy(dir)
	s := newTestStore(t, policy, newFakeClock())
	ctx := context.Background()
	p := KeyParams{Ticker: "AAPL", DataType: payload.TypeDividends}
	div := payload.Dividends{{Ticker: "AAPL", Amount: decimal.NewFromInt(1)}}

	require.True(t, s.Put(ctx, p, div))
	policy.setEnabled(payload.TypeDividends, false)

	_, ok := s.Get(ctx, p)
	assert.False(t, ok)
	assert.False(t, s.Put(ctx, p, div))

	policy.setEnabled(payload.TypeDividends, true)
	_, ok = s.Get(ctx, p)
	assert.True(t, ok, "disabling a type must not destroy its entries")
}

func TestStore_DataTypeMismatchRejected(t *testing.T) {
	s := newTestStore(t, newTestPolicy(t.TempDir()), newFakeClock())
	ctx := context.Background()

	assert.False(t, s.Put(ctx, KeyParams{Ticker: "AAPL", DataType: payload.TypePriceData}, companyInfo("AAPL", "x")))
	assert.False(t, s.Put(ctx, KeyParams{Ticker: "AAPL", DataType: payload.TypePriceData}, nil))
	assert.False(t, s.Put(ctx, KeyParams{Ticker: "AAPL", DataType: payload.TypePriceData}, payload.PriceHistory{}))
	assert.Empty(t, s.List(ctx, "", ""))
}

func TestStore_CustomDataType(t *testing.T) {
	dir := t.TempDir()
	policy := newTestPolicy(dir)
	policy.extra = []payload.DataType{"analyst_ratings"}
	s := newTestStore(t, policy, newFakeClock())
	ctx := context.Background()

	ratings := payload.Raw{Type: "analyst_ratings", Data: json.RawMessage(`{"buy":12}`)}
	p := KeyParams{Ticker: "AAPL", DataType: "analyst_ratings"}
	require.True(t, s.Put(ctx, p, ratings))

	got, ok := s.Get(ctx, p)
	require.True(t, ok)
	assert.JSONEq(t, `{"buy":12}`, string(got.(payload.Raw).Data))

	undeclared := payload.Raw{Type: "esg_scores", Data: json.RawMessage(`{}`)}
	assert.False(t, s.Put(ctx, KeyParams{Ticker: "AAPL", DataType: "esg_scores"}, undeclared))
	assert.Equal(t, uint64(1), s.Counters().StoreFailures)
}

func TestStore_StatsConsistency(t *testing.T) {
	dir := t.TempDir()
	policy := newTestPolicy(dir)
	policy.ttl[payload.TypeDividends] = 1
	clock := newFakeClock()
	s := newTestStore(t, policy, clock)
	ctx := context.Background()

	require.True(t, s.Put(ctx, KeyParams{Ticker: "A", DataType: payload.TypePriceData}, priceHistory(1, 2)))
	require.True(t, s.Put(ctx, KeyParams{Ticker: "B", DataType: payload.TypePriceData}, priceHistory(3)))
	require.True(t, s.Put(ctx, KeyParams{Ticker: "A", DataType: payload.TypeCompanyInfo}, companyInfo("A", "Agilent")))
	require.True(t, s.Put(ctx, KeyParams{Ticker: "A", DataType: payload.TypeDividends}, payload.Dividends{}))
	require.True(t, s.Put(ctx, KeyParams{Ticker: "C", DataType: payload.TypeCompanyInfo}, companyInfo("C", "Citi")))
	require.NoError(t, os.Remove(s.List(ctx, "C", "")[0].FilePath))
	clock.Advance(2 * time.Hour)

	stats := s.Stats(ctx)
	assert.Equal(t, 5, stats.TotalEntries)
	assert.Equal(t, 2, stats.ExpiredEntries, "one expired dividends entry and one orphan")
	assert.Equal(t, 3, stats.ValidEntries)
	assert.Equal(t, dir, stats.CacheDirectory)
	assert.True(t, stats.CacheEnabled)
	assert.Equal(t, FormatSize(stats.TotalSizeBytes), stats.TotalSizeFormatted)

	var count int
	var size int64
	for _, ts := range stats.ByType {
		count += ts.Count
		size += ts.SizeBytes
	}
	assert.Equal(t, stats.TotalEntries, count)
	assert.Equal(t, stats.TotalSizeBytes, size)
	assert.Equal(t, 2, stats.ByType[payload.TypePriceData].Count)
	assert.Equal(t,
		[]payload.DataType{payload.TypeCompanyInfo, payload.TypeDividends, payload.TypePriceData},
		stats.DataTypes())

	// Stats never mutates the index.
	assert.Len(t, s.List(ctx, "", ""), 5)
}

func TestStore_StatsEmpty(t *testing.T) {
	dir := t.TempDir()
	policy := newTestPolicy(dir)
	for _, dt := range payload.BuiltinDataTypes() {
		policy.setEnabled(dt, false)
	}
	s := newTestStore(t, policy, newFakeClock())

	stats := s.Stats(context.Background())
	assert.Equal(t, 0, stats.TotalEntries)
	assert.Equal(t, "0 B", stats.TotalSizeFormatted)
	assert.False(t, stats.CacheEnabled)
	assert.Empty(t, stats.ByType)
}

func TestStore_EvictFamily(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, newTestPolicy(dir), newFakeClock())
	ctx := context.Background()

	for _, ticker := range []string{"A", "B", "C"} {
		require.True(t, s.Put(ctx, KeyParams{Ticker: ticker, DataType: payload.TypePriceData}, priceHistory(1)))
		require.True(t, s.Put(ctx, KeyParams{Ticker: ticker, DataType: payload.TypeCompanyInfo}, companyInfo(ticker, ticker)))
	}

	assert.Equal(t, 1, s.Evict(ctx, "A_price_data"))
	assert.Equal(t, 0, s.Evict(ctx, "A_price_data"))
	assert.Equal(t, 2, s.EvictByType(ctx, "Price_Data"))
	assert.Equal(t, 3, s.EvictAll(ctx))
	assert.Empty(t, s.List(ctx, "", ""))
	assert.Empty(t, blobFiles(t, dir))
	assert.Equal(t, uint64(6), s.Counters().Evictions)
	assert.Equal(t, 0, s.EvictAll(ctx))
}

func TestStore_ListOrderAndFilters(t *testing.T) {
	dir := t.TempDir()
	clock := newFakeClock()
	s := newTestStore(t, newTestPolicy(dir), clock)
	ctx := context.Background()

	require.True(t, s.Put(ctx, KeyParams{Ticker: "AAPL", DataType: payload.TypePriceData}, priceHistory(1)))
	clock.Advance(time.Minute)
	require.True(t, s.Put(ctx, KeyParams{Ticker: "MSFT", DataType: payload.TypePriceData}, priceHistory(1)))
	clock.Advance(time.Minute)
	require.True(t, s.Put(ctx, KeyParams{Ticker: "AAPL", DataType: payload.TypeCompanyInfo}, companyInfo("AAPL", "Apple")))

	keys := func(entries []Entry) []string {
		out := make([]string, 0, len(entries))
		for _, e := range entries {
			out = append(out, e.CacheKey)
		}
		return out
	}

	assert.Equal(t, []string{"AAPL_company_info", "MSFT_price_data", "AAPL_price_data"}, keys(s.List(ctx, "", "")))
	assert.Equal(t, []string{"AAPL_company_info", "AAPL_price_data"}, keys(s.List(ctx, "aapl", "")))
	assert.Equal(t, []string{"MSFT_price_data", "AAPL_price_data"}, keys(s.List(ctx, "", payload.TypePriceData)))
	assert.Equal(t, []string{"AAPL_price_data"}, keys(s.List(ctx, "AAPL", payload.TypePriceData)))
	assert.Empty(t, s.List(ctx, "TSLA", ""))
}

func TestStore_PersistsAcrossInstances(t *testing.T) {
	for name := range backends() {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			clock := newFakeClock()
			ctx := context.Background()
			p := KeyParams{Ticker: "AAPL", DataType: payload.TypeIncomeStatements, Frequency: "quarterly"}
			v := payload.IncomeStatements{{Ticker: "AAPL", Frequency: payload.FrequencyQuarterly, PeriodEndDate: "2025-03-31"}}

			first := New(ctx, newTestPolicy(dir), WithClock(clock.Now), WithLogger(zerolog.Nop()), WithIndexBackend(name))
			require.True(t, first.Put(ctx, p, v))
			require.NoError(t, first.Close())

			second := newTestStore(t, newTestPolicy(dir), clock, WithIndexBackend(name))
			got, ok := second.Get(ctx, p)
			require.True(t, ok)
			assert.Equal(t, "2025-03-31", got.(payload.IncomeStatements)[0].PeriodEndDate)
		})
	}
}

func TestStore_IndexLocation(t *testing.T) {
	dir := t.TempDir()
	bolt := newTestStore(t, newTestPolicy(dir), newFakeClock())
	assert.Equal(t, filepath.Join(dir, metadataDirName, boltIndexFile), bolt.IndexLocation())

	dir = t.TempDir()
	js := newTestStore(t, newTestPolicy(dir), newFakeClock(), WithIndexBackend(BackendJSON))
	assert.Equal(t, filepath.Join(dir, metadataDirName, jsonIndexFile), js.IndexLocation())

	dir = t.TempDir()
	unknown := newTestStore(t, newTestPolicy(dir), newFakeClock(), WithIndexBackend("sqlite"))
	assert.Equal(t, filepath.Join(dir, metadataDirName, boltIndexFile), unknown.IndexLocation())
}

func TestStore_CreatesTypeDirectories(t *testing.T) {
	dir := t.TempDir()
	newTestStore(t, newTestPolicy(dir), newFakeClock())

	for _, dt := range payload.BuiltinDataTypes() {
		assert.DirExists(t, filepath.Join(dir, blobDirName, string(dt)))
	}
	assert.DirExists(t, filepath.Join(dir, metadataDirName))
}

func TestStore_DegradedWhenDirectoryUnusable(t *testing.T) {
	base := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(base, []byte("x"), 0o600))

	s := New(context.Background(), newTestPolicy(base), WithLogger(zerolog.Nop()))
	defer s.Close()
	ctx := context.Background()
	p := KeyParams{Ticker: "AAPL", DataType: payload.TypePriceData}

	assert.False(t, s.Ready())
	assert.False(t, s.Put(ctx, p, priceHistory(1)))
	_, ok := s.Get(ctx, p)
	assert.False(t, ok)
	assert.Equal(t, 0, s.EvictAll(ctx))
	assert.Equal(t, 0, s.Stats(ctx).TotalEntries)
}

func TestStore_CorruptIndexRecovers(t *testing.T) {
	dir := t.TempDir()
	metadata := filepath.Join(dir, metadataDirName)
	require.NoError(t, os.MkdirAll(metadata, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(metadata, jsonIndexFile), []byte("[[["), 0o600))

	s := newTestStore(t, newTestPolicy(dir), newFakeClock(), WithIndexBackend(BackendJSON))
	ctx := context.Background()
	assert.Empty(t, s.List(ctx, "", ""))

	p := KeyParams{Ticker: "AAPL", DataType: payload.TypePriceData}
	require.True(t, s.Put(ctx, p, priceHistory(1)))
	_, ok := s.Get(ctx, p)
	assert.True(t, ok)
}

func TestStore_Counters(t *testing.T) {
	s := newTestStore(t, newTestPolicy(t.TempDir()), newFakeClock())
	ctx := context.Background()
	p := KeyParams{Ticker: "AAPL", DataType: payload.TypePriceData}

	_, _ = s.Get(ctx, p)
	require.True(t, s.Put(ctx, p, priceHistory(1)))
	_, _ = s.Get(ctx, p)
	_, _ = s.Get(ctx, p)

	assert.Equal(t, Counters{Hits: 2, Misses: 1, Stores: 1}, s.Counters())
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := newTestStore(t, newTestPolicy(t.TempDir()), newFakeClock())
	ctx := logging.ContextWithTraceID(context.Background(), logging.GenerateTraceID())

	const workers = 8
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := KeyParams{Ticker: fmt.Sprintf("T%d", w), DataType: payload.TypePriceData}
			for i := range 10 {
				assert.True(t, s.Put(ctx, p, priceHistory(int64(i+1))))
				_, ok := s.Get(ctx, p)
				assert.True(t, ok)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, s.List(ctx, "", ""), workers)
	c := s.Counters()
	assert.Equal(t, uint64(workers*10), c.Stores)
	assert.Equal(t, uint64(workers*10), c.Hits)
}

func TestStore_UnsafeDiscriminatorsStayInTypeDirectory(t *testing.T) {
	for _, period := range []string{"2020/2021", "../../../escaped", `..\..\escaped`} {
		t.Run(period, func(t *testing.T) {
			dir := t.TempDir()
			s := newTestStore(t, newTestPolicy(dir), newFakeClock())
			ctx := context.Background()
			p := KeyParams{Ticker: "AAPL", DataType: payload.TypePriceData, Period: period}

			require.True(t, s.Put(ctx, p, priceHistory(10, 11)))

			got, ok := s.Get(ctx, p)
			require.True(t, ok)
			assert.Empty(t, cmp.Diff(priceHistory(10, 11), got, decimalEqual))

			entries := s.List(ctx, "AAPL", "")
			require.Len(t, entries, 1)
			assert.Equal(t, filepath.Join(dir, blobDirName, string(payload.TypePriceData)), filepath.Dir(entries[0].FilePath))
			assert.Equal(t, period, entries[0].Period)

			assert.Equal(t, []string{entries[0].FilePath}, blobFiles(t, dir))
			assert.NoFileExists(t, filepath.Join(dir, "escaped.blob"))
			assert.NoFileExists(t, filepath.Join(filepath.Dir(dir), "escaped.blob"))
			assert.NoDirExists(t, filepath.Join(dir, blobDirName, string(payload.TypePriceData), "2020"))
		})
	}
}

func TestStore_HugeTTLDoesNotWrap(t *testing.T) {
	dir := t.TempDir()
	policy := newTestPolicy(dir)
	policy.ttl[payload.TypeCompanyInfo] = 3_000_000
	s := newTestStore(t, policy, newFakeClock())
	ctx := context.Background()
	p := KeyParams{Ticker: "KO", DataType: payload.TypeCompanyInfo}

	require.True(t, s.Put(ctx, p, companyInfo("KO", "Coca-Cola")))
	entry := s.List(ctx, "KO", "")[0]
	assert.True(t, entry.ExpiresAt.After(entry.CreatedAt))

	_, ok := s.Get(ctx, p)
	assert.True(t, ok)
}

func TestStore_PutWriteFailure(t *testing.T) {
	t.Run("blob path occupied by a directory", func(t *testing.T) {
		dir := t.TempDir()
		s := newTestStore(t, newTestPolicy(dir), newFakeClock())
		ctx := context.Background()
		p := KeyParams{Ticker: "AAPL", DataType: payload.TypePriceData, Period: "1y"}

		typeDir := filepath.Join(dir, blobDirName, string(payload.TypePriceData))
		blocked := filepath.Join(typeDir, GenerateKey(p)+blobExtension)
		require.NoError(t, os.MkdirAll(blocked, 0o750))
		require.NoError(t, os.WriteFile(filepath.Join(blocked, "keep"), []byte("x"), 0o600))

		assert.False(t, s.Put(ctx, p, priceHistory(1)))

		temps, err := filepath.Glob(filepath.Join(typeDir, "*.tmp"))
		require.NoError(t, err)
		assert.Empty(t, temps)
		info, err := os.Stat(blocked)
		require.NoError(t, err)
		assert.True(t, info.IsDir())

		assert.Empty(t, s.List(ctx, "", ""))
		_, ok := s.Get(ctx, p)
		assert.False(t, ok)
		assert.Equal(t, uint64(1), s.Counters().StoreFailures)
		assert.Zero(t, s.Counters().Stores)
	})

	t.Run("type directory replaced by a file", func(t *testing.T) {
		dir := t.TempDir()
		s := newTestStore(t, newTestPolicy(dir), newFakeClock())
		ctx := context.Background()

		typeDir := filepath.Join(dir, blobDirName, string(payload.TypeCompanyInfo))
		require.NoError(t, os.RemoveAll(typeDir))
		require.NoError(t, os.WriteFile(typeDir, []byte("not a directory"), 0o600))

		assert.False(t, s.Put(ctx, KeyParams{Ticker: "AAPL", DataType: payload.TypeCompanyInfo}, companyInfo("AAPL", "Apple")))
		assert.Empty(t, blobFiles(t, dir))
		assert.Empty(t, s.List(ctx, "", ""))
		assert.Equal(t, uint64(1), s.Counters().StoreFailures)
	})
}
