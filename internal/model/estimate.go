package model

import "time"

// Citation points at a pricing source used for a line item.
type Citation struct {
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	RetrievedAt time.Time `json:"retrievedAt"`
}

// EstimateLineItem prices the repair of one damaged part.
type EstimateLineItem struct {
	Part         string     `json:"part"`
	DamageType   string     `json:"damageType"`
	LaborHours   float64    `json:"laborHours"`
	LaborRate    float64    `json:"laborRate"`
	LaborCost    float64    `json:"laborCost"`
	PartCostLow  float64    `json:"partCostLow"`
	PartCostHigh float64    `json:"partCostHigh"`
	TotalLow     float64    `json:"totalLow"`
	TotalHigh    float64    `json:"totalHigh"`
	Sources      []Citation `json:"sources"`
}

// Estimate is the line-item repair estimate for a claim.
type Estimate struct {
	ID             string             `json:"id,omitempty"`
	ClaimID        string             `json:"claim_id,omitempty"`
	LineItems      []EstimateLineItem `json:"lineItems"`
	SubtotalLow    float64            `json:"subtotalLow"`
	SubtotalHigh   float64            `json:"subtotalHigh"`
	LaborTotal     float64            `json:"laborTotal"`
	PartsLow       float64            `json:"partsLow"`
	PartsHigh      float64            `json:"partsHigh"`
	GrandTotalLow  float64            `json:"grandTotalLow"`
	GrandTotalHigh float64            `json:"grandTotalHigh"`
	GeneratedAt    time.Time          `json:"generatedAt"`
}
