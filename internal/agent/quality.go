package agent

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/claims-router/internal/model"
	"github.com/sells-group/claims-router/pkg/anthropic"
)

const qualityTool = "assess_photo_quality"

const qualitySystemPrompt = `You check whether vehicle damage photos are good enough for an insurance damage assessment. Be strict: a poor photo produces a poor assessment.

Reject a photo that is:
- blurry or out of focus
- too dark or overexposed
- taken at an angle that hides the damage
- too far from or too close to the damage
- partly blocked by an obstruction
- too low in resolution to show detail

A photo needs a score of at least 70 to be acceptable. When it is not acceptable, tell the claimant exactly how to retake it.`

const qualityPrompt = "Assess the quality of this vehicle damage photo and report whether it can be used to process the claim."

var qualitySchema = anthropic.Tool{
	Name:        qualityTool,
	Description: "Report whether a damage photo is suitable for insurance claim processing",
	Properties: map[string]any{
		"acceptable": map[string]any{"type": "boolean", "description": "Whether the photo quality is acceptable for processing"},
		"score":      map[string]any{"type": "number", "description": "Quality score from 0-100"},
		"issues": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"type":        map[string]any{"type": "string", "enum": []string{"blur", "darkness", "angle", "distance", "obstruction", "resolution"}},
					"severity":    map[string]any{"type": "string", "enum": []string{"low", "medium", "high"}},
					"description": map[string]any{"type": "string"},
				},
				"required": []string{"type", "severity", "description"},
			},
		},
		"guidance": map[string]any{"type": "string", "description": "Instructions for retaking the photo if it failed"},
	},
	Required: []string{"acceptable", "score", "issues", "guidance"},
}

// QualityReport is the quality stage result plus call metrics.
type QualityReport struct {
	Result model.QualityResult
	Call   Call
}

// qualityOutput mirrors the tool input with pointers so missing fields are
// caught instead of zero-filled.
type qualityOutput struct {
	Acceptable *bool                `json:"acceptable"`
	Score      *float64             `json:"score"`
	Issues     []model.QualityIssue `json:"issues"`
	Guidance   string               `json:"guidance"`
}

// AssessQuality runs the photo quality stage.
func (a *Agents) AssessQuality(ctx context.Context, claimID string, photo Photo) (*QualityReport, error) {
	req := a.request(a.cfg.QualityModel, qualitySystemPrompt, qualityPrompt, qualityTool, qualitySchema, photo)
	raw, call, err := a.invoke(ctx, StageQuality, claimID, req)
	if err != nil {
		return nil, err
	}

	res, err := parseQuality(raw)
	if err != nil {
		return nil, &StageError{Stage: StageQuality, Err: err}
	}
	return &QualityReport{Result: *res, Call: call}, nil
}

func parseQuality(raw json.RawMessage) (*model.QualityResult, error) {
	var out qualityOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, eris.Wrap(err, "quality: decode tool input")
	}
	if out.Acceptable == nil || out.Score == nil {
		return nil, eris.New("quality: acceptable and score are required")
	}
	res := &model.QualityResult{
		Acceptable: *out.Acceptable,
		Score:      *out.Score,
		Issues:     out.Issues,
		Guidance:   out.Guidance,
	}
	if res.Issues == nil {
		res.Issues = []model.QualityIssue{}
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return res, nil
}
