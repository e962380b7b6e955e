package resultcache

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/marketgrid/signalbench/internal/domain"
)

// Fingerprint derives the cache key for a (signals, parameters) pair.
// Signals are canonicalized by sorting on (day, ticker); parameters are
// marshaled with sorted keys, floats in fixed notation, and times as RFC3339.
// The key is the first 128 bits of a SHA-256 over both, hex encoded, so
// equivalent requests collide on the same entry regardless of input order.
func Fingerprint(signals []domain.Signal, params map[string]interface{}) string {
	canonical := make([]domain.Signal, len(signals))
	copy(canonical, signals)
	sort.SliceStable(canonical, func(i, j int) bool {
		if canonical[i].Day != canonical[j].Day {
			return canonical[i].Day < canonical[j].Day
		}
		return canonical[i].Ticker < canonical[j].Ticker
	})

	type sigKey struct {
		Day    int64  `json:"day"`
		Ticker string `json:"ticker"`
	}
	keys := make([]sigKey, len(canonical))
	for i, s := range canonical {
		keys[i] = sigKey{Day: int64(s.Day), Ticker: s.Ticker}
	}

	// encoding/json already sorts map keys; normalization handles the
	// value representations the sort does not.
	signalsJSON, _ := json.Marshal(keys)
	paramsJSON, _ := json.Marshal(normalize(params))

	combined := string(signalsJSON) + "_" + string(paramsJSON)
	h := sha256.Sum256([]byte(combined))
	return fmt.Sprintf("%x", h[:16])
}

// normalize rewrites parameter values into their canonical wire form:
// floats in fixed notation, times as RFC3339, containers recursively.
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case float64:
		return json.Number(strconv.FormatFloat(val, 'f', -1, 64))
	case float32:
		return json.Number(strconv.FormatFloat(float64(val), 'f', -1, 64))
	case time.Time:
		return val.Format(time.RFC3339)
	case *float64:
		if val == nil {
			return nil
		}
		return json.Number(strconv.FormatFloat(*val, 'f', -1, 64))
	default:
		return v
	}
}
