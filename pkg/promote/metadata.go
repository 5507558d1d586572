package promote

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"unicode/utf8"

	"github.com/quatton/mam/pkg/merr"
)

const (
	MaxMetadataEntries = 64
	MaxMetadataValue   = 1024
)

var metadataKeyRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// NormalizeMetadata checks the shape of user metadata and flattens scalar
// values to strings. nil yields nil.
func NormalizeMetadata(raw any) (map[string]string, error) {
	const op = "promote.metadata"
	var in map[string]any
	switch m := raw.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		in = m
	case map[string]string:
		in = make(map[string]any, len(m))
		for k, v := range m {
			in[k] = v
		}
	default:
		return nil, merr.Errorf(merr.CodeInvalidMetadata, op, "metadata must be an object, got %T", raw)
	}

	if len(in) > MaxMetadataEntries {
		return nil, merr.Errorf(merr.CodeInvalidMetadata, op, "metadata has %d entries, at most %d allowed", len(in), MaxMetadataEntries)
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if !metadataKeyRe.MatchString(k) {
			return nil, merr.Errorf(merr.CodeInvalidMetadata, op, "metadata key %q is invalid", k)
		}
		s, ok := scalar(v)
		if !ok {
			return nil, merr.Errorf(merr.CodeInvalidMetadata, op, "metadata value for %q must be a string, number or boolean", k)
		}
		if utf8.RuneCountInString(s) > MaxMetadataValue {
			return nil, merr.Errorf(merr.CodeInvalidMetadata, op, "metadata value for %q exceeds %d characters", k, MaxMetadataValue)
		}
		out[k] = s
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func scalar(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case json.Number:
		return t.String(), true
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(t), true
	}
	return "", false
}
