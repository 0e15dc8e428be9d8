package units

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrInvalidByteFormat = errors.New("not a valid size, expected a number optionally followed by B, KB, KiB, MB, MiB, GB, GiB, TB or TiB")

const prefixes = "KMGT"

var multipliers = func() map[string]float64 {
	res := map[string]float64{"": 1, "B": 1}
	for i, prefix := range prefixes {
		res[string(prefix)+"B"] = math.Pow(1000, float64(i+1))
		res[string(prefix)+"iB"] = math.Pow(1024, float64(i+1))
	}
	return res
}()

// Bytes is a size in bytes, written in configuration files as "64MiB" or
// "1.5 GB".
type Bytes struct {
	Bytes int64
}

func (b *Bytes) UnmarshalYAML(value *yaml.Node) error {
	val, err := DecodeBytes(value.Value)
	if err != nil {
		return err
	}

	*b = val
	return nil
}

func DecodeBytes(value string) (Bytes, error) {
	value = strings.TrimSpace(value)
	split := strings.IndexFunc(value, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	if split == -1 {
		split = len(value)
	}

	number, suffix := value[:split], strings.TrimSpace(value[split:])
	mul, ok := multipliers[suffix]
	if number == "" || !ok {
		return Bytes{}, fmt.Errorf("%w: %q", ErrInvalidByteFormat, value)
	}

	if val, err := strconv.ParseInt(number, 10, 64); err == nil {
		if float64(val)*mul > math.MaxInt64 {
			return Bytes{}, fmt.Errorf("%w: %q overflows", ErrInvalidByteFormat, value)
		}
		return Bytes{val * int64(mul)}, nil
	}

	val, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return Bytes{}, fmt.Errorf("%w: %w", ErrInvalidByteFormat, err)
	}
	if val*mul > math.MaxInt64 {
		return Bytes{}, fmt.Errorf("%w: %q overflows", ErrInvalidByteFormat, value)
	}
	return Bytes{int64(val * mul)}, nil
}

func (b Bytes) String() string {
	return PrettyBytes(b.Bytes)
}

// PrettyBytes renders a size with binary prefixes, as shown in the admin
// interface.
func PrettyBytes[T int64 | uint64](b T) string {
	v := float64(b)
	i := -1

	for v >= 1024 && i < len(prefixes)-1 {
		v /= 1024
		i++
	}

	if i < 0 {
		return fmt.Sprintf("%dB", b)
	}
	return fmt.Sprintf("%.2f%ciB", v, prefixes[i])
}

func (b Bytes) MarshalYAML() (any, error) {
	return b.String(), nil
}
