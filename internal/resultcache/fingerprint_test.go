package resultcache

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marketgrid/signalbench/internal/domain"
)

var hexKey = regexp.MustCompile(`^[0-9a-f]{32}$`)

func sigs(pairs ...interface{}) []domain.Signal {
	out := make([]domain.Signal, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, domain.Signal{
			Ticker: pairs[i].(string),
			Day:    domain.DayOrdinal(pairs[i+1].(int)),
		})
	}
	return out
}

func TestFingerprint_Shape(t *testing.T) {
	key := Fingerprint(sigs("X", 1), map[string]interface{}{"stop_loss": 5.0})
	assert.Regexp(t, hexKey, key, "128-bit hex digest")
}

func TestFingerprint_SignalOrderInvariant(t *testing.T) {
	params := map[string]interface{}{"stop_loss": 5.0}

	a := Fingerprint(sigs("X", 1, "Y", 1, "X", 2), params)
	b := Fingerprint(sigs("X", 2, "X", 1, "Y", 1), params)
	assert.Equal(t, a, b, "Signal input order must not change the key")
}

func TestFingerprint_SensitiveToInputs(t *testing.T) {
	params := map[string]interface{}{"stop_loss": 5.0}

	base := Fingerprint(sigs("X", 1), params)
	assert.NotEqual(t, base, Fingerprint(sigs("X", 2), params))
	assert.NotEqual(t, base, Fingerprint(sigs("Y", 1), params))
	assert.NotEqual(t, base, Fingerprint(sigs("X", 1), map[string]interface{}{"stop_loss": 6.0}))
}

func TestFingerprint_NestedAndPointerParams(t *testing.T) {
	tp := 10.0
	params := map[string]interface{}{
		"take_profit": &tp,
		"sizing_params": map[string]interface{}{
			"amount": 600.0,
		},
	}
	a := Fingerprint(sigs("X", 1), params)

	// Same values, fresh allocations: identical key.
	tp2 := 10.0
	b := Fingerprint(sigs("X", 1), map[string]interface{}{
		"take_profit": &tp2,
		"sizing_params": map[string]interface{}{
			"amount": 600.0,
		},
	})
	assert.Equal(t, a, b)

	// Nil pointer is distinct from a set value.
	c := Fingerprint(sigs("X", 1), map[string]interface{}{
		"take_profit":   (*float64)(nil),
		"sizing_params": map[string]interface{}{"amount": 600.0},
	})
	assert.NotEqual(t, a, c)
}

func TestTTLFor(t *testing.T) {
	assert.Equal(t, TTLStandard, TTLFor(ClassStandard))
	assert.Equal(t, TTLOptimization, TTLFor(ClassOptimization))
	assert.Equal(t, TTLMonteCarlo, TTLFor(ClassMonteCarlo))
	assert.Equal(t, TTLQuickScan, TTLFor(ClassQuickScan))
	assert.Equal(t, TTLStandard, TTLFor("unknown"))
}
