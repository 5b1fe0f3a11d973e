package config

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
)

// ByteSize is a byte count read from config as "4GiB", "512MB" or a plain
// number. Units follow go-humanize, so MB is 1000^2 and MiB is 1024^2.
type ByteSize int64

// ParseByteSize parses s with humanize.ParseBytes.
func ParseByteSize(s string) (ByteSize, error) {
	n, err := humanize.ParseBytes(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("parsing byte size %q: %w", s, err)
	case n > math.MaxInt64:
		return 0, fmt.Errorf("byte size %q overflows int64", s)
	}
	return ByteSize(n), nil
}

// UnmarshalText lets mapstructure's text hook decode sizes from strings.
func (b *ByteSize) UnmarshalText(text []byte) error {
	n, err := ParseByteSize(string(text))
	if err == nil {
		*b = n
	}
	return err
}

// MarshalText renders the size the way String does, so dumped config
// parses back to the same value.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b ByteSize) Bytes() int64 { return int64(b) }

// String uses binary units, e.g. "4.0 GiB".
func (b ByteSize) String() string {
	if b < 0 {
		return fmt.Sprintf("%d B", int64(b))
	}
	return humanize.IBytes(uint64(b))
}
