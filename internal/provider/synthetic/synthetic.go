// Package synthetic estimates solar yield locally when every external
// provider is unavailable.
package synthetic

import (
	"context"
	"math"
	"time"

	"github.com/mohammed-shakir/solar-grid-cache/internal/model"
	"github.com/mohammed-shakir/solar-grid-cache/internal/provider"
)

// annual global horizontal irradiation at the equator, kWh/m2
const baseIrradiation = 2000.0

// minimum cosine factor so polar cells still get a nonzero estimate
const minLatFactor = 0.25

type Provider struct {
	now func() time.Time
}

var _ provider.Provider = (*Provider)(nil)

func New() *Provider { return &Provider{now: time.Now} }

func (p *Provider) Source() model.Source { return model.SourceFallback }

// GetSolarData never fails: the model is cos(latitude) times a fixed base
// irradiation, scaled by panel area, efficiency and orientation.
func (p *Provider) GetSolarData(_ context.Context, q provider.Query) (*model.Payload, error) {
	return Estimate(q, p.now()), nil
}

func Estimate(q provider.Query, now time.Time) *model.Payload {
	latFactor := math.Max(minLatFactor, math.Cos(q.Lat*math.Pi/180))
	irr := baseIrradiation * latFactor
	annual := irr * q.Panel.AreaM2 * provider.PanelEfficiency * provider.PerformanceRatio * provider.OrientationFactor(q.Panel)

	return &model.Payload{
		AnnualKWh:  provider.Round2(annual),
		CO2Saved:   provider.Round2(annual * provider.CO2KgPerKWh),
		Efficiency: provider.PanelEfficiency,
		Timestamp:  now.UTC(),
		Source:     model.SourceFallback,
		Metadata: model.Metadata{
			Lat:   q.Lat,
			Lng:   q.Lng,
			Panel: q.Panel,
			Assumptions: map[string]float64{
				"base_irradiation":  baseIrradiation,
				"latitude_factor":   provider.Round2(latFactor),
				"performance_ratio": provider.PerformanceRatio,
			},
		},
		Radiation: &model.Radiation{GHI: provider.Round2(irr), AnnualTotal: provider.Round2(irr)},
	}
}
