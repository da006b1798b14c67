package config

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-viper/mapstructure/v2"
)

// ByteSize is a byte count that may be written as 100e9, 100000000000 or 100GB.
type ByteSize uint64

// ParseByteSize parses a plain or scientific number of bytes, or a size with
// a unit such as "1.5 GB" or "512MiB".
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f < 0 || f > math.MaxUint64 {
			return 0, fmt.Errorf("byte size %q out of range", s)
		}
		return ByteSize(f), nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return ByteSize(n), nil
}

func (b ByteSize) String() string {
	return humanize.Bytes(uint64(b))
}

// ParseNanos parses a duration written as nanoseconds (60e9, 60000000000) or
// as a Go duration ("1m", "1h30m").
func ParseNanos(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f < 0 || f > math.MaxInt64 {
			return 0, fmt.Errorf("duration %q out of range", s)
		}
		return time.Duration(f), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// StringToByteSizeHookFunc decodes strings and floats into ByteSize.
func StringToByteSizeHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if t != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return ParseByteSize(v)
		case float64:
			return ParseByteSize(strconv.FormatFloat(v, 'f', -1, 64))
		}
		return data, nil
	}
}

// StringToNanosHookFunc decodes strings and floats into time.Duration,
// accepting plain nanosecond counts as well as Go duration syntax.
func StringToNanosHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return ParseNanos(v)
		case float64:
			return ParseNanos(strconv.FormatFloat(v, 'f', -1, 64))
		}
		return data, nil
	}
}
