package estimate

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// CostRange is a low/high dollar range for one replacement part.
type CostRange struct {
	Low  float64 `yaml:"low" json:"low"`
	High float64 `yaml:"high" json:"high"`
}

// PriceTable holds part cost ranges and labor hours by damage type. Keys
// are normalized part names and lowercase damage types; "default" is the
// fallback in both maps.
type PriceTable struct {
	Parts      map[string]CostRange `yaml:"parts"`
	LaborHours map[string]float64   `yaml:"labor_hours"`
}

const defaultKey = "default"

// DefaultPriceTable returns the built-in pricing.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		Parts: map[string]CostRange{
			"windshield":    {300, 800},
			"bumper":        {400, 1200},
			"front bumper":  {400, 1200},
			"rear bumper":   {350, 1100},
			"hood":          {500, 1500},
			"fender":        {200, 600},
			"front fender":  {200, 600},
			"rear fender":   {250, 700},
			"door":          {400, 1200},
			"front door":    {400, 1200},
			"rear door":     {350, 1000},
			"mirror":        {100, 400},
			"side mirror":   {100, 400},
			"headlight":     {150, 600},
			"taillight":     {100, 400},
			"grille":        {150, 500},
			"trunk":         {400, 1000},
			"roof":          {800, 2500},
			"quarter panel": {500, 1500},
			defaultKey:      {200, 600},
		},
		LaborHours: map[string]float64{
			"shattered": 4,
			"cracked":   2,
			"chipped":   1,
			"dented":    3,
			"scratched": 1.5,
			"bent":      4,
			"broken":    3,
			defaultKey:  2,
		},
	}
}

// LoadPriceTable reads a YAML price table and overlays it on the defaults.
func LoadPriceTable(path string) (PriceTable, error) {
	table := DefaultPriceTable()
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return table, eris.Wrapf(err, "estimate: read price table %s", path)
	}
	var overlay PriceTable
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return table, eris.Wrapf(err, "estimate: parse price table %s", path)
	}
	for k, v := range overlay.Parts {
		if v.High < v.Low {
			return table, eris.Errorf("estimate: part %q high %v below low %v", k, v.High, v.Low)
		}
		table.Parts[normalizePart(k)] = v
	}
	for k, v := range overlay.LaborHours {
		if v < 0 {
			return table, eris.Errorf("estimate: negative labor hours for %q", k)
		}
		table.LaborHours[strings.ToLower(k)] = v
	}
	return table, nil
}

// partLevels returns lookup keys from most to least specific.
// For "left front door" it returns ["left front door", "front door", "door"].
func partLevels(normalized string) []string {
	words := strings.Fields(normalized)
	levels := make([]string, 0, len(words))
	for i := range words {
		levels = append(levels, strings.Join(words[i:], " "))
	}
	return levels
}

// costRange looks up a part, falling back to broader names and then the
// default range. The second result is the key that matched.
func (p PriceTable) costRange(part string) (CostRange, string) {
	for _, key := range partLevels(normalizePart(part)) {
		if r, ok := p.Parts[key]; ok {
			return r, key
		}
	}
	return p.Parts[defaultKey], defaultKey
}

func (p PriceTable) laborHours(damageType string) float64 {
	if h, ok := p.LaborHours[strings.ToLower(strings.TrimSpace(damageType))]; ok && h > 0 {
		return h
	}
	return p.LaborHours[defaultKey]
}

var partReplacer = strings.NewReplacer("_", " ", "-", " ")

func normalizePart(name string) string {
	return strings.Join(strings.Fields(partReplacer.Replace(strings.ToLower(name))), " ")
}
