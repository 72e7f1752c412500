// Package nasapower calls the NASA POWER climatology point API, the secondary
// irradiance source.
package nasapower

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/solar-grid-cache/internal/model"
	"github.com/mohammed-shakir/solar-grid-cache/internal/provider"
)

const (
	paramGHI = "ALLSKY_SFC_SW_DWN"
	paramDNI = "ALLSKY_SFC_SW_DNI"
	paramDIF = "ALLSKY_SFC_SW_DIFF"

	// POWER marks missing values with this sentinel
	fillValue = -999
)

var months = [12]struct {
	key  string
	days float64
}{
	{"JAN", 31}, {"FEB", 28.25}, {"MAR", 31}, {"APR", 30}, {"MAY", 31}, {"JUN", 30},
	{"JUL", 31}, {"AUG", 31}, {"SEP", 30}, {"OCT", 31}, {"NOV", 30}, {"DEC", 31},
}

type Client struct {
	base string
	hc   *http.Client
	now  func() time.Time
}

var _ provider.Provider = (*Client)(nil)

func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), hc: hc, now: time.Now}
}

func (c *Client) Source() model.Source { return model.SourceNASAPower }

// values are daily means in kWh/m2/day keyed by month abbreviation plus "ANN"
type climatology struct {
	Properties struct {
		Parameter map[string]map[string]float64 `json:"parameter"`
	} `json:"properties"`
}

func (c *Client) GetSolarData(ctx context.Context, q provider.Query) (*model.Payload, error) {
	v := url.Values{}
	v.Set("parameters", strings.Join([]string{paramGHI, paramDNI, paramDIF}, ","))
	v.Set("community", "RE")
	v.Set("latitude", ff(q.Lat))
	v.Set("longitude", ff(q.Lng))
	v.Set("format", "JSON")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"?"+v.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("nasa power request: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nasa power call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("nasa power status %d", resp.StatusCode)
	}

	var body climatology
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("nasa power decode: %w", err)
	}
	params := body.Properties.Parameter
	ghi, ok := annual(params[paramGHI])
	if !ok || ghi <= 0 {
		return nil, provider.ErrNoData
	}

	// yield per kWh/m2 of horizontal irradiation
	scale := q.Panel.AreaM2 * provider.PanelEfficiency * provider.PerformanceRatio * provider.OrientationFactor(q.Panel)

	var monthly []model.MonthlyYield
	for i, m := range months {
		d, ok := params[paramGHI][m.key]
		if !ok || d == fillValue {
			monthly = nil
			break
		}
		irr := d * m.days
		monthly = append(monthly, model.MonthlyYield{Month: i + 1, KWh: provider.Round2(irr * scale), Irradiation: provider.Round2(irr)})
	}

	annualKWh := provider.Round2(ghi * scale)
	rad := &model.Radiation{GHI: provider.Round2(ghi), AnnualTotal: provider.Round2(ghi)}
	if dni, ok := annual(params[paramDNI]); ok {
		rad.DNI = provider.Round2(dni)
	}
	if dif, ok := annual(params[paramDIF]); ok {
		rad.DIF = provider.Round2(dif)
	}

	return &model.Payload{
		AnnualKWh:  annualKWh,
		CO2Saved:   provider.Round2(annualKWh * provider.CO2KgPerKWh),
		Efficiency: provider.PanelEfficiency,
		Timestamp:  c.now().UTC(),
		Source:     model.SourceNASAPower,
		Metadata: model.Metadata{
			Lat:         q.Lat,
			Lng:         q.Lng,
			Panel:       q.Panel,
			MonthlyData: monthly,
			Assumptions: map[string]float64{
				"performance_ratio":  provider.PerformanceRatio,
				"orientation_factor": provider.Round2(provider.OrientationFactor(q.Panel)),
			},
		},
		Radiation: rad,
	}, nil
}

// annual converts the "ANN" daily mean into a yearly total.
func annual(series map[string]float64) (float64, bool) {
	v, ok := series["ANN"]
	if !ok || v == fillValue {
		return 0, false
	}
	return v * 365.25, true
}

func ff(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
