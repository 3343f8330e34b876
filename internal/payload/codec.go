package payload

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// SchemaVersion is written into every envelope.
const SchemaVersion = "1.0.0"

// schemaConstraint accepts any envelope this build can read.
const schemaConstraint = "^1.0.0"

// gzipMagic prefixes every gzip stream; Decode uses it to detect compression.
var gzipMagic = []byte{0x1f, 0x8b} //nolint:gochecknoglobals // constant byte prefix

// envelope is the on-disk form of every blob.
type envelope struct {
	Schema   string          `json:"schema"`
	DataType DataType        `json:"data_type"`
	Data     json.RawMessage `json:"data"`
}

// EncodeOptions controls blob encoding.
type EncodeOptions struct {
	// Compress gzips the envelope.
	Compress bool
}

// Encode validates v and serializes it into a versioned envelope.
func Encode(v Value, opts EncodeOptions) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: nil value", ErrCorruptPayload)
	}
	if err := Validate(v); err != nil {
		return nil, err
	}
	if d, ok := v.(Dividends); ok && d == nil {
		v = Dividends{}
	}

	var data json.RawMessage
	if raw, ok := v.(Raw); ok {
		data = raw.Data
	} else {
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshalling %s: %w", v.DataType(), err)
		}
		data = encoded
	}

	out, err := json.Marshal(envelope{Schema: SchemaVersion, DataType: v.DataType(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshalling envelope: %w", err)
	}
	if !opts.Compress {
		return out, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err = zw.Write(out); err != nil {
		return nil, fmt.Errorf("compressing blob: %w", err)
	}
	if err = zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing blob: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a blob written by Encode and returns the typed value for want.
// Every failure, including a data type mismatch, wraps ErrCorruptPayload or
// ErrSchemaVersion.
func Decode(blob []byte, want DataType) (Value, error) {
	if bytes.HasPrefix(blob, gzipMagic) {
		inflated, err := gunzip(blob)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptPayload, err)
		}
		blob = inflated
	}

	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptPayload, err)
	}
	if err := checkSchema(env.Schema); err != nil {
		return nil, err
	}
	if env.DataType != want {
		return nil, fmt.Errorf("%w: blob holds %q, want %q", ErrCorruptPayload, env.DataType, want)
	}

	v, err := decodeData(want, env.Data)
	if err != nil {
		return nil, err
	}
	if err = Validate(v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeData(dt DataType, data json.RawMessage) (Value, error) {
	if isNull(data) {
		return nil, fmt.Errorf("%w: %s blob has no data", ErrCorruptPayload, dt)
	}

	switch dt {
	case TypeCompanyInfo:
		return unmarshalAs[CompanyInfo](dt, data)
	case TypeIncomeStatements:
		return unmarshalAs[IncomeStatements](dt, data)
	case TypeBalanceSheets:
		return unmarshalAs[BalanceSheets](dt, data)
	case TypeCashFlows:
		return unmarshalAs[CashFlows](dt, data)
	case TypeDividends:
		return unmarshalAs[Dividends](dt, data)
	case TypePriceData:
		return unmarshalAs[PriceHistory](dt, data)
	default:
		return Raw{Type: dt, Data: append(json.RawMessage(nil), data...)}, nil
	}
}

func unmarshalAs[T Value](dt DataType, data json.RawMessage) (Value, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrCorruptPayload, dt, err)
	}
	return v, nil
}

// Validate checks that v has the shape its data type requires.
func Validate(v Value) error {
	switch val := v.(type) {
	case CompanyInfo:
		if strings.TrimSpace(val.Ticker) == "" {
			return fmt.Errorf("%w: company_info without ticker", ErrCorruptPayload)
		}
	case IncomeStatements:
		return requireRows(TypeIncomeStatements, len(val))
	case BalanceSheets:
		return requireRows(TypeBalanceSheets, len(val))
	case CashFlows:
		return requireRows(TypeCashFlows, len(val))
	case PriceHistory:
		return requireRows(TypePriceData, len(val))
	case Dividends:
		return nil
	case Raw:
		if val.Type == "" {
			return fmt.Errorf("%w: raw value without data type", ErrUnknownDataType)
		}
		if val.Type.IsBuiltin() {
			return fmt.Errorf("%w: %s must use its record type", ErrUnknownDataType, val.Type)
		}
		if isNull(val.Data) || !json.Valid(val.Data) {
			return fmt.Errorf("%w: %s raw data is not a JSON document", ErrCorruptPayload, val.Type)
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnknownDataType, v)
	}
	return nil
}

func requireRows(dt DataType, n int) error {
	if n == 0 {
		return fmt.Errorf("%w: %s has no rows", ErrCorruptPayload, dt)
	}
	return nil
}

func checkSchema(raw string) error {
	v, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrSchemaVersion, raw, err)
	}
	c, err := semver.NewConstraint(schemaConstraint)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSchemaVersion, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrSchemaVersion, raw, schemaConstraint)
	}
	return nil
}

func isNull(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func gunzip(blob []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
