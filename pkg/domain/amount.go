package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Amount is a monetary value. Decoding never fails: anything that is not a finite
// number (missing, null, garbage, NaN, Inf) becomes 0.
type Amount float64

func (a Amount) Float64() float64 {
	return float64(a.Sanitize())
}

// Sanitize returns 0 for NaN and infinities.
func (a Amount) Sanitize() Amount {
	f := float64(a)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return a
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(float64(a.Sanitize()), 'f', -1, 64)), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	*a = parseAmount(data)
	return nil
}

func parseAmount(data []byte) Amount {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return 0
	}

	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return 0
		}
		raw = strings.TrimSpace(s)
	}

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return Amount(f).Sanitize()
}
