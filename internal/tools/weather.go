// ABOUTME: Approval-gated weather tool backed by the Open-Meteo forecast API
// ABOUTME: Returns current conditions plus hourly temperature and sunrise/sunset

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

const openMeteoBaseURL = "https://api.open-meteo.com/v1/forecast"

type weatherInput struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// weatherTool fetches current weather for a coordinate pair. It is the one
// built-in tool that requires the user's approval before running.
func weatherTool(client *http.Client) *Tool {
	return &Tool{
		Name:          "get_weather",
		Description:   "Get the current weather at a location, including temperature, hourly forecast, and sunrise/sunset times.",
		NeedsApproval: true,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"latitude": map[string]any{
					"type":        "number",
					"description": "Latitude of the location",
				},
				"longitude": map[string]any{
					"type":        "number",
					"description": "Longitude of the location",
				},
			},
			"required": []string{"latitude", "longitude"},
		},
		Execute: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			var in weatherInput
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fmt.Errorf("decoding weather input: %w", err)
			}

			q := url.Values{}
			q.Set("latitude", fmt.Sprintf("%g", in.Latitude))
			q.Set("longitude", fmt.Sprintf("%g", in.Longitude))
			q.Set("current", "temperature_2m")
			q.Set("hourly", "temperature_2m")
			q.Set("daily", "sunrise,sunset")
			q.Set("timezone", "auto")

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, openMeteoBaseURL+"?"+q.Encode(), nil)
			if err != nil {
				return nil, fmt.Errorf("building weather request: %w", err)
			}

			resp, err := client.Do(req)
			if err != nil {
				return errorResult("weather service unreachable: %v", err), nil
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return errorResult("weather lookup failed with HTTP status %d", resp.StatusCode), nil
			}

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, fmt.Errorf("reading weather response: %w", err)
			}
			if !json.Valid(body) {
				return errorResult("weather service returned a malformed response"), nil
			}
			return json.RawMessage(body), nil
		},
	}
}
