package discord

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrZeroSnowflake is returned when an identifier parses to zero.
var ErrZeroSnowflake = errors.New("snowflake must be non-zero")

// Snowflake is a Discord identifier for channels, messages and emojis.
type Snowflake uint64

// ParseSnowflake parses a decimal snowflake. Zero is rejected.
func ParseSnowflake(s string) (Snowflake, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid snowflake %q: %w", s, err)
	}
	if v == 0 {
		return 0, ErrZeroSnowflake
	}
	return Snowflake(v), nil
}

// String returns the decimal form used in URLs.
func (s Snowflake) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// UnmarshalJSON accepts both the quoted form Discord sends and a bare number.
func (s *Snowflake) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "null" || raw == "" {
		return fmt.Errorf("missing snowflake")
	}
	v, err := ParseSnowflake(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// MarshalJSON encodes the snowflake as a quoted string.
func (s Snowflake) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}
