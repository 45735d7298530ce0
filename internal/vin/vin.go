// Package vin decodes VINs against the public NHTSA vPIC service so a
// listing's make/model/year can be cross-checked when a VIN is present.
package vin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Vehicle is the decoded identity of a VIN.
type Vehicle struct {
	VIN   string
	Make  string
	Model string
	Year  int
}

// Decoder resolves a VIN to its vehicle identity.
type Decoder interface {
	Decode(ctx context.Context, vin string) (Vehicle, error)
}

const defaultVPICBaseURL = "https://vpic.nhtsa.dot.gov/api/vehicles"

// VPICDecoder decodes VINs through the NHTSA vPIC REST API.
type VPICDecoder struct {
	BaseURL string
	Client  *http.Client
}

// NewVPICDecoder builds a decoder with the given request timeout.
func NewVPICDecoder(timeout time.Duration) *VPICDecoder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &VPICDecoder{
		BaseURL: defaultVPICBaseURL,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (d *VPICDecoder) Decode(ctx context.Context, vin string) (Vehicle, error) {
	if len(vin) != 17 {
		return Vehicle{}, fmt.Errorf("vin %q: expected 17 characters", vin)
	}
	endpoint := fmt.Sprintf("%s/DecodeVinValues/%s?format=json", d.BaseURL, url.PathEscape(vin))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Vehicle{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return Vehicle{}, fmt.Errorf("decode vin: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Vehicle{}, fmt.Errorf("decode vin: status %d", resp.StatusCode)
	}

	var out struct {
		Results []struct {
			Make      string `json:"Make"`
			Model     string `json:"Model"`
			ModelYear string `json:"ModelYear"`
		} `json:"Results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Vehicle{}, fmt.Errorf("decode vin response: %w", err)
	}
	if len(out.Results) == 0 {
		return Vehicle{}, fmt.Errorf("decode vin: empty result")
	}
	year, _ := strconv.Atoi(out.Results[0].ModelYear)
	return Vehicle{
		VIN:   vin,
		Make:  out.Results[0].Make,
		Model: out.Results[0].Model,
		Year:  year,
	}, nil
}
