package model

import (
	"github.com/rotisserie/eris"
)

// QualityIssue is one problem the quality agent found with a photo.
type QualityIssue struct {
	Type        string `json:"type"`     // blur, darkness, angle, distance, obstruction, resolution
	Severity    string `json:"severity"` // low, medium, high
	Description string `json:"description"`
}

// QualityResult is the photo-quality agent output.
type QualityResult struct {
	Acceptable bool           `json:"acceptable"`
	Score      float64        `json:"score"`
	Issues     []QualityIssue `json:"issues"`
	Guidance   string         `json:"guidance"`
}

// Validate rejects agent output that is out of range.
func (q *QualityResult) Validate() error {
	if q.Score < 0 || q.Score > 100 {
		return eris.Errorf("quality: score %v out of range [0,100]", q.Score)
	}
	return nil
}

// DamagedPart is one AI-identified damaged vehicle component.
type DamagedPart struct {
	Part       string  `json:"part"`
	DamageType string  `json:"damage_type"`
	Severity   float64 `json:"severity"`   // 1-10
	Confidence float64 `json:"confidence"` // 0-100
	CostLow    float64 `json:"cost_low"`
	CostHigh   float64 `json:"cost_high"`
}

// DamageAssessment is the damage agent output. It is never mutated after
// the pipeline writes it; adjuster edits live in verification overlays.
type DamageAssessment struct {
	DamagedParts      []DamagedPart `json:"damaged_parts"`
	OverallSeverity   float64       `json:"overall_severity"`
	OverallConfidence float64       `json:"overall_confidence"`
	TotalCostLow      float64       `json:"total_cost_low"`
	TotalCostHigh     float64       `json:"total_cost_high"`
	Summary           string        `json:"summary"`
	SafetyConcerns    []string      `json:"safety_concerns"`
	FraudIndicators   []string      `json:"fraud_indicators"`
	RecommendedAction string        `json:"recommended_action"` // approve, review, escalate
}

// Validate fails fast on malformed agent output so that null-filled gaps
// never reach the routing engine.
func (a *DamageAssessment) Validate() error {
	if a.DamagedParts == nil {
		return eris.New("damage: damaged_parts missing")
	}
	if a.OverallSeverity < 1 || a.OverallSeverity > 10 {
		return eris.Errorf("damage: overall_severity %v out of range [1,10]", a.OverallSeverity)
	}
	if a.OverallConfidence < 0 || a.OverallConfidence > 100 {
		return eris.Errorf("damage: overall_confidence %v out of range [0,100]", a.OverallConfidence)
	}
	if a.TotalCostHigh < a.TotalCostLow {
		return eris.Errorf("damage: total cost high %v below low %v", a.TotalCostHigh, a.TotalCostLow)
	}
	for i, p := range a.DamagedParts {
		if p.Part == "" {
			return eris.Errorf("damage: part %d has no name", i)
		}
		if p.Severity < 1 || p.Severity > 10 {
			return eris.Errorf("damage: part %d severity %v out of range", i, p.Severity)
		}
		if p.Confidence < 0 || p.Confidence > 100 {
			return eris.Errorf("damage: part %d confidence %v out of range", i, p.Confidence)
		}
	}
	switch a.RecommendedAction {
	case "approve", "review", "escalate":
	default:
		return eris.Errorf("damage: unknown recommended_action %q", a.RecommendedAction)
	}
	return nil
}
