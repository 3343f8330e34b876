package payload

// constError is an immutable error type for sentinel errors.
type constError string

func (e constError) Error() string { return string(e) }

// Sentinel errors returned by Encode and Decode. Compare with errors.Is.
var (
	// ErrCorruptPayload means the blob could not be decoded or the decoded
	// value does not have the shape its data type requires.
	ErrCorruptPayload = constError("corrupt payload")

	// ErrSchemaVersion means the blob was written with an incompatible schema.
	ErrSchemaVersion = constError("incompatible payload schema")

	// ErrUnknownDataType means a value cannot be encoded for the data type.
	ErrUnknownDataType = constError("unknown data type")
)
