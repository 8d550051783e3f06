// ABOUTME: Image tools fetching random pictures and the daily news summary image
// ABOUTME: Images are inlined as base64 data URLs so clients can render them directly

package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	randomImageBaseURL  = "https://uapis.cn/api/v1/random/image"
	dailyNewsImageURL   = "https://uapis.cn/api/v1/daily/news-image"
	maxInlineImageBytes = 8 << 20
)

type imageOutput struct {
	ImageURL    string `json:"imageUrl"`
	OriginalURL string `json:"originalUrl,omitempty"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
	Category    string `json:"category,omitempty"`
	Type        string `json:"type,omitempty"`
	Timestamp   string `json:"timestamp"`
}

type randomImageInput struct {
	Category string `json:"category"`
	Type     string `json:"type"`
}

func randomImageTool(client *http.Client) *Tool {
	return &Tool{
		Name:        "get_random_image",
		Description: "Get a random image for use as a placeholder or background. Supports categories like anime, AI art, landscapes, and phone or desktop wallpapers; omit the category for a fully random pick.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"category": map[string]any{
					"type": "string",
					"enum": []any{
						"furry", "bq", "acg", "ai_drawing", "general_anime",
						"landscape", "mobile_wallpaper", "pc_wallpaper", "anime",
					},
					"description": "Main image category; omit for fully random",
				},
				"type": map[string]any{
					"type":        "string",
					"description": "Optional sub-category within the main category",
				},
			},
		},
		Execute: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			var in randomImageInput
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fmt.Errorf("decoding random image input: %w", err)
			}

			q := url.Values{}
			if in.Category != "" {
				q.Set("category", in.Category)
			}
			if in.Type != "" {
				q.Set("type", in.Type)
			}
			target := randomImageBaseURL
			if len(q) > 0 {
				target += "?" + q.Encode()
			}

			out, errOut := fetchImage(ctx, client, target, 10*time.Second)
			if errOut != nil {
				return errOut, nil
			}

			out.Category = in.Category
			if out.Category == "" {
				out.Category = "random"
			}
			out.Type = in.Type
			return json.Marshal(out)
		},
	}
}

func dailyNewsImageTool(client *http.Client) *Tool {
	return &Tool{
		Name:        "get_daily_news_image",
		Description: "Get today's news digest as a single rendered image, a quick overview of the day's headlines. Suited to morning briefings and dashboards.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Execute: func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			// Generation of the digest image takes a while upstream
			out, errOut := fetchImage(ctx, client, dailyNewsImageURL, 15*time.Second)
			if errOut != nil {
				return errOut, nil
			}
			return json.Marshal(out)
		},
	}
}

// fetchImage downloads an image and inlines it as a data URL. Expected
// failures come back as an error payload, not a Go error.
func fetchImage(ctx context.Context, client *http.Client, target string, timeout time.Duration) (*imageOutput, json.RawMessage) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errorResult("building image request failed: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errorResult("the image took too long to fetch, try again later")
		}
		return nil, errorResult("image service unreachable: %v", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, errorResult("no image found for the requested category")
	case http.StatusBadGateway:
		return nil, errorResult("the upstream image source is temporarily unavailable")
	case http.StatusInternalServerError:
		return nil, errorResult("the image service hit an internal error, try again later")
	default:
		return nil, errorResult("image fetch failed with HTTP status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "image") {
		return nil, errorResult("the image service returned a non-image response")
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxInlineImageBytes+1))
	if err != nil {
		return nil, errorResult("reading image data failed: %v", err)
	}
	if len(data) > maxInlineImageBytes {
		return nil, errorResult("the image is too large to inline")
	}

	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &imageOutput{
		ImageURL:    "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data),
		OriginalURL: finalURL,
		ContentType: contentType,
		Size:        len(data),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}, nil
}
