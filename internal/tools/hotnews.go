// ABOUTME: Trending-board tool listing the hot topics of a named platform
// ABOUTME: Maps upstream HTTP statuses to readable error payloads for the model

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

const hotboardBaseURL = "https://uapis.cn/api/v1/misc/hotboard"

// hotboardPlatforms are the boards the aggregator supports.
var hotboardPlatforms = []string{
	"bilibili", "weibo", "zhihu", "zhihu-daily", "douyin", "kuaishou",
	"douban-movie", "tieba", "hupu", "v2ex", "coolapk",
	"baidu", "thepaper", "toutiao", "qq-news", "sina-news", "netease-news",
	"sspai", "ithome", "juejin", "36kr", "csdn", "hellogithub",
	"lol", "genshin", "starrail", "weread", "earthquake", "history",
}

type hotNewsInput struct {
	Type string `json:"type"`
}

type hotNewsOutput struct {
	Platform   string          `json:"platform"`
	List       json.RawMessage `json:"list"`
	Type       string          `json:"type"`
	UpdateTime string          `json:"updateTime"`
}

func hotNewsTool(client *http.Client) *Tool {
	platforms := make([]any, len(hotboardPlatforms))
	for i, p := range hotboardPlatforms {
		platforms[i] = p
	}

	return &Tool{
		Name:        "get_hot_news",
		Description: "Get the live trending board of a major platform (Weibo, Bilibili, Zhihu, Baidu, and others). Each entry has a title, a heat score, and a link.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"type": map[string]any{
					"type":        "string",
					"enum":        platforms,
					"description": "Which platform's trending board to fetch, e.g. 'weibo' or 'zhihu'",
				},
			},
			"required": []string{"type"},
		},
		Execute: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			var in hotNewsInput
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fmt.Errorf("decoding hot news input: %w", err)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet,
				hotboardBaseURL+"?type="+url.QueryEscape(in.Type), nil)
			if err != nil {
				return nil, fmt.Errorf("building hot news request: %w", err)
			}

			resp, err := client.Do(req)
			if err != nil {
				return errorResult("fetching the trending board failed: %v", err), nil
			}
			defer resp.Body.Close()

			switch resp.StatusCode {
			case http.StatusOK:
			case http.StatusBadRequest:
				return errorResult("unknown trending board type %q", in.Type), nil
			case http.StatusBadGateway:
				return errorResult("the %s board is temporarily unavailable upstream", in.Type), nil
			case http.StatusInternalServerError:
				return errorResult("the trending board service hit an internal error, try again later"), nil
			default:
				return errorResult("trending board lookup failed with HTTP status %d", resp.StatusCode), nil
			}

			var payload struct {
				List       json.RawMessage `json:"list"`
				Type       string          `json:"type"`
				UpdateTime string          `json:"update_time"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
				return errorResult("the trending board service returned a malformed response"), nil
			}

			out, err := json.Marshal(hotNewsOutput{
				Platform:   in.Type,
				List:       payload.List,
				Type:       payload.Type,
				UpdateTime: payload.UpdateTime,
			})
			if err != nil {
				return nil, fmt.Errorf("encoding hot news output: %w", err)
			}
			return out, nil
		},
	}
}
