package agent

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/claims-router/internal/model"
	"github.com/sells-group/claims-router/pkg/anthropic"
)

const damageTool = "assess_vehicle_damage"

const damageSystemPrompt = `You are an expert vehicle damage assessor working insurance claims. Analyze the photo and report every visible damaged part.

Guidelines:
- Estimate repair costs from typical market rates.
- Severity is 1-3 minor, 4-6 moderate, 7-10 severe.
- Report fraud indicators such as inconsistent damage patterns, pre-existing damage or staged photos.
- Report safety concerns such as structural damage or airbag deployment.

Recommended action:
- "approve" when severity <= 4, confidence >= 85 and there are no fraud indicators
- "escalate" when severity > 7, confidence < 70 or any fraud indicator is present
- "review" otherwise

Never deny a claim. The only actions are approve, review and escalate.`

const damagePrompt = "Analyze this vehicle damage photo and provide a detailed assessment for insurance claim processing."

var damageSchema = anthropic.Tool{
	Name:        damageTool,
	Description: "Report the vehicle damage visible in a claim photo",
	Properties: map[string]any{
		"damaged_parts": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"part":        map[string]any{"type": "string"},
					"damage_type": map[string]any{"type": "string"},
					"severity":    map[string]any{"type": "number", "description": "1-10 scale"},
					"confidence":  map[string]any{"type": "number", "description": "0-100 confidence"},
					"cost_low":    map[string]any{"type": "number"},
					"cost_high":   map[string]any{"type": "number"},
				},
				"required": []string{"part", "damage_type", "severity", "confidence", "cost_low", "cost_high"},
			},
		},
		"overall_severity":   map[string]any{"type": "number", "description": "1-10 scale"},
		"overall_confidence": map[string]any{"type": "number", "description": "0-100 percentage"},
		"total_cost_low":     map[string]any{"type": "number"},
		"total_cost_high":    map[string]any{"type": "number"},
		"summary":            map[string]any{"type": "string"},
		"safety_concerns":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"fraud_indicators":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"recommended_action": map[string]any{"type": "string", "enum": []string{"approve", "review", "escalate"}},
	},
	Required: []string{
		"damaged_parts", "overall_severity", "overall_confidence", "total_cost_low", "total_cost_high",
		"summary", "safety_concerns", "fraud_indicators", "recommended_action",
	},
}

// DamageReport is the damage stage result plus call metrics.
type DamageReport struct {
	Assessment model.DamageAssessment
	Call       Call
}

// AssessDamage runs the damage assessment stage. Output that fails
// validation is a stage error; nothing is defaulted.
func (a *Agents) AssessDamage(ctx context.Context, claimID string, photo Photo) (*DamageReport, error) {
	req := a.request(a.cfg.DamageModel, damageSystemPrompt, damagePrompt, damageTool, damageSchema, photo)
	raw, call, err := a.invoke(ctx, StageDamage, claimID, req)
	if err != nil {
		return nil, err
	}

	var out model.DamageAssessment
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &StageError{Stage: StageDamage, Err: eris.Wrap(err, "damage: decode tool input")}
	}
	if err := out.Validate(); err != nil {
		return nil, &StageError{Stage: StageDamage, Err: err}
	}
	if out.SafetyConcerns == nil {
		out.SafetyConcerns = []string{}
	}
	if out.FraudIndicators == nil {
		out.FraudIndicators = []string{}
	}
	return &DamageReport{Assessment: out, Call: call}, nil
}
