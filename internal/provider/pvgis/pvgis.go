// Package pvgis calls the JRC PVGIS PVcalc API, the primary irradiance source.
package pvgis

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

func (c *Client) Source() model.Source { return model.SourcePVGIS }

type pvcalcResponse struct {
	Outputs struct {
		Monthly struct {
			Fixed []struct {
				Month int     `json:"month"`
				EM    float64 `json:"E_m"`
				HIM   float64 `json:"H(i)_m"`
			} `json:"fixed"`
		} `json:"monthly"`
		Totals struct {
			Fixed struct {
				EY  *float64 `json:"E_y"`
				HIY float64  `json:"H(i)_y"`
			} `json:"fixed"`
		} `json:"totals"`
	} `json:"outputs"`
}

func (c *Client) GetSolarData(ctx context.Context, q provider.Query) (*model.Payload, error) {
	v := url.Values{}
	v.Set("lat", ff(q.Lat))
	v.Set("lon", ff(q.Lng))
	v.Set("peakpower", ff(provider.Round2(provider.PeakPowerKW(q.Panel))))
	v.Set("loss", strconv.Itoa(provider.SystemLossPercent))
	v.Set("angle", ff(q.Panel.TiltDeg))
	// PVGIS aspect: 0 = south, -90 = east, 90 = west
	v.Set("aspect", ff(q.Panel.AzimuthDeg-180))
	v.Set("outputformat", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/PVcalc?"+v.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("pvgis request: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pvgis call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("pvgis status %d", resp.StatusCode)
	}

	var body pvcalcResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("pvgis decode: %w", err)
	}
	tot := body.Outputs.Totals.Fixed
	if tot.EY == nil || *tot.EY <= 0 {
		return nil, provider.ErrNoData
	}

	monthly := make([]model.MonthlyYield, 0, len(body.Outputs.Monthly.Fixed))
	for _, m := range body.Outputs.Monthly.Fixed {
		monthly = append(monthly, model.MonthlyYield{Month: m.Month, KWh: provider.Round2(m.EM), Irradiation: provider.Round2(m.HIM)})
	}

	annual := provider.Round2(*tot.EY)
	return &model.Payload{
		AnnualKWh:  annual,
		CO2Saved:   provider.Round2(annual * provider.CO2KgPerKWh),
		Efficiency: provider.PanelEfficiency,
		Timestamp:  c.now().UTC(),
		Source:     model.SourcePVGIS,
		Metadata: model.Metadata{
			Lat:         q.Lat,
			Lng:         q.Lng,
			Panel:       q.Panel,
			MonthlyData: monthly,
			Assumptions: map[string]float64{
				"peak_power_kw":       provider.PeakPowerKW(q.Panel),
				"system_loss_percent": provider.SystemLossPercent,
			},
		},
		Radiation: &model.Radiation{AnnualTotal: provider.Round2(tot.HIY)},
	}, nil
}

func ff(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
