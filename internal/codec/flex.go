package codec

import (
	"bytes"
	"fmt"
	"strconv"
)

// Some sensor firmwares stringify their numbers ("21.3" instead of 21.3).
// FlexInt64 and FlexFloat64 accept both encodings and marshal back as plain
// numbers.

type FlexInt64 int64

func (f *FlexInt64) UnmarshalJSON(b []byte) error {
	s := unquote(b)
	if s == "null" {
		// json calls UnmarshalJSON for literal null on non-pointer fields;
		// keep the zero value.
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %q: %w", string(b), err)
	}
	*f = FlexInt64(n)
	return nil
}

func (f FlexInt64) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(f), 10)), nil
}

type FlexFloat64 float64

func (f *FlexFloat64) UnmarshalJSON(b []byte) error {
	s := unquote(b)
	if s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", string(b), err)
	}
	*f = FlexFloat64(v)
	return nil
}

func (f FlexFloat64) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(float64(f), 'f', -1, 64)), nil
}

func unquote(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		b = b[1 : len(b)-1]
	}
	return string(b)
}
