package cache

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spaolacci/murmur3"
)

// Key identifies one cached prediction. The model name rides along uncombined
// so swap invalidation can match entries by name without a reverse index.
type Key struct {
	Model string
	Hi    uint64
	Lo    uint64
}

// Fingerprint computes the stable cache key for a prediction request. The
// feature map is normalized before hashing: fields sorted by name, floats
// formatted with 6 significant digits, booleans as 0/1. Equal normalized
// inputs always produce byte-identical hash input and therefore equal keys.
// return_probabilities is deliberately not part of the key; both response
// forms derive from the same inference.
func Fingerprint(model, version string, features map[string]any) Key {
	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(model)
	b.WriteByte(0)
	b.WriteString(version)
	for _, name := range names {
		b.WriteByte(0)
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(canonicalValue(features[name]))
	}
	hi, lo := murmur3.Sum128([]byte(b.String()))
	return Key{Model: model, Hi: hi, Lo: lo}
}

// canonicalValue renders a feature value in its canonical wire-independent
// form. JSON decoding yields float64 for all numbers, so integral values
// arriving as 5 or 5.0 normalize identically.
func canonicalValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case bool:
		if x {
			return "1"
		}
		return "0"
	case float64:
		return strconv.FormatFloat(x, 'g', 6, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', 6, 64)
	case int:
		return strconv.FormatFloat(float64(x), 'g', 6, 64)
	case int64:
		return strconv.FormatFloat(float64(x), 'g', 6, 64)
	case uint64:
		return strconv.FormatFloat(float64(x), 'g', 6, 64)
	case string:
		return x
	default:
		// Unknown types fail schema validation before reaching the cache;
		// render something stable regardless.
		return fmt.Sprintf("%v", x)
	}
}
