package routing

import (
	"encoding/json"
	"sort"

	"github.com/rotisserie/eris"
)

// Controls are the tunable business thresholds that govern routing. They are
// always passed into Route explicitly; the engine never reads global state.
type Controls struct {
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold" mapstructure:"confidence_threshold"` // 0-1
	SeverityThreshold   float64 `json:"severity_threshold" yaml:"severity_threshold" mapstructure:"severity_threshold"`       // 1-10
	PayoutCapSenior     float64 `json:"payout_cap_senior" yaml:"payout_cap_senior" mapstructure:"payout_cap_senior"`
	PayoutCapAuto       float64 `json:"payout_cap_auto" yaml:"payout_cap_auto" mapstructure:"payout_cap_auto"`
	DualReviewEnabled   bool    `json:"dual_review_enabled" yaml:"dual_review_enabled" mapstructure:"dual_review_enabled"`
	QASampleRate        float64 `json:"qa_sample_rate" yaml:"qa_sample_rate" mapstructure:"qa_sample_rate"` // 0-1
}

// Control keys as stored in the controls table.
const (
	KeyConfidenceThreshold = "confidence_threshold"
	KeySeverityThreshold   = "severity_threshold"
	KeyPayoutCapSenior     = "payout_cap_senior"
	KeyPayoutCapAuto       = "payout_cap_auto"
	KeyDualReviewEnabled   = "dual_review_enabled"
	KeyQASampleRate        = "qa_sample_rate"
)

var (
	// ErrUnknownControl is returned for a key that is not a routing control.
	ErrUnknownControl = eris.New("unknown control key")
	// ErrInvalidControl is returned for a value of the wrong type or out of range.
	ErrInvalidControl = eris.New("invalid control value")
)

// DefaultControls returns the thresholds used when nothing is configured.
func DefaultControls() Controls {
	return Controls{
		ConfidenceThreshold: 0.75,
		SeverityThreshold:   7,
		PayoutCapSenior:     3000,
		PayoutCapAuto:       1500,
		DualReviewEnabled:   false,
		QASampleRate:        0.1,
	}
}

// Validate checks that every threshold is in range. PayoutCapSenior >=
// PayoutCapAuto is expected but not enforced.
func (c Controls) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return eris.Wrapf(ErrInvalidControl, "controls: confidence_threshold %v out of range [0,1]", c.ConfidenceThreshold)
	}
	if c.SeverityThreshold < 1 || c.SeverityThreshold > 10 {
		return eris.Wrapf(ErrInvalidControl, "controls: severity_threshold %v out of range [1,10]", c.SeverityThreshold)
	}
	if c.PayoutCapAuto < 0 || c.PayoutCapSenior < 0 {
		return eris.Wrap(ErrInvalidControl, "controls: payout caps must be non-negative")
	}
	if c.QASampleRate < 0 || c.QASampleRate > 1 {
		return eris.Wrapf(ErrInvalidControl, "controls: qa_sample_rate %v out of range [0,1]", c.QASampleRate)
	}
	return nil
}

// Keys returns every control key in sorted order.
func Keys() []string {
	keys := []string{
		KeyConfidenceThreshold,
		KeySeverityThreshold,
		KeyPayoutCapSenior,
		KeyPayoutCapAuto,
		KeyDualReviewEnabled,
		KeyQASampleRate,
	}
	sort.Strings(keys)
	return keys
}

// Get returns the value of a control by key.
func (c Controls) Get(key string) (any, error) {
	switch key {
	case KeyConfidenceThreshold:
		return c.ConfidenceThreshold, nil
	case KeySeverityThreshold:
		return c.SeverityThreshold, nil
	case KeyPayoutCapSenior:
		return c.PayoutCapSenior, nil
	case KeyPayoutCapAuto:
		return c.PayoutCapAuto, nil
	case KeyDualReviewEnabled:
		return c.DualReviewEnabled, nil
	case KeyQASampleRate:
		return c.QASampleRate, nil
	}
	return nil, eris.Wrapf(ErrUnknownControl, "get %q", key)
}

// With returns a copy of c with key set to value. Numeric controls accept
// any JSON number; dual_review_enabled requires a bool.
func (c Controls) With(key string, value any) (Controls, error) {
	if key == KeyDualReviewEnabled {
		b, ok := value.(bool)
		if !ok {
			return c, eris.Wrapf(ErrInvalidControl, "controls: %s expects a bool, got %T", key, value)
		}
		c.DualReviewEnabled = b
		return c, nil
	}

	f, ok := toFloat(value)
	if !ok {
		if _, err := c.Get(key); err != nil {
			return c, err
		}
		return c, eris.Wrapf(ErrInvalidControl, "controls: %s expects a number, got %T", key, value)
	}

	switch key {
	case KeyConfidenceThreshold:
		c.ConfidenceThreshold = f
	case KeySeverityThreshold:
		c.SeverityThreshold = f
	case KeyPayoutCapSenior:
		c.PayoutCapSenior = f
	case KeyPayoutCapAuto:
		c.PayoutCapAuto = f
	case KeyQASampleRate:
		c.QASampleRate = f
	default:
		return c, eris.Wrapf(ErrUnknownControl, "set %q", key)
	}
	return c, nil
}

// Merge overlays stored values onto c. Unknown keys and values of the
// wrong type are skipped and reported back to the caller.
func (c Controls) Merge(values map[string]any) (Controls, []string) {
	var skipped []string
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		next, err := c.With(k, values[k])
		if err != nil {
			skipped = append(skipped, k)
			continue
		}
		c = next
	}
	return c, skipped
}

// JSON renders the controls as the routing snapshot stored on a claim.
func (c Controls) JSON() json.RawMessage {
	b, _ := json.Marshal(c) //nolint:errcheck // plain struct of scalars
	return b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
