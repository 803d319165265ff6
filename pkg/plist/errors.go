package plist

import "fmt"

// DecodeError is returned for malformed, truncated or unsupported input. It is
// fatal for the parse that produced it.
type DecodeError struct {
	Format Format
	Offset int64
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Format == BinaryFormat {
		return fmt.Sprintf("plist: invalid binary plist at offset %#x: %s", e.Offset, e.Reason)
	}
	return fmt.Sprintf("plist: invalid %s plist: %s", e.Format, e.Reason)
}

// Name is the error category
func (e *DecodeError) Name() string { return "DecodeError" }

// EncodeError is returned when a value cannot be represented in a plist
type EncodeError struct {
	Value any
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("plist: cannot encode value of type %T", e.Value)
}
