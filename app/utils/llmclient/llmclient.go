package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"autoclip/app/config"

	"resty.dev/v3"
)

// Client 大模型客户端，走 OpenAI 兼容接口
type Client struct {
	http       *resty.Client
	model      string
	maxRetries int
}

// New 创建大模型客户端
func New(cfg config.LLMConfig) *Client {
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetAuthToken(cfg.APIKey)
	client.SetTimeout(time.Duration(cfg.Timeout) * time.Second)

	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}

	return &Client{
		http:       client,
		model:      cfg.Model,
		maxRetries: retries,
	}
}

// chatRequest OpenAI 兼容的对话请求
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Call 单次调用，返回模型输出文本
func (c *Client) Call(ctx context.Context, prompt string, input string) (string, error) {
	content := prompt
	if input != "" {
		content = prompt + "\n\n" + input
	}

	var result chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model: c.model,
			Messages: []chatMessage{
				{Role: "user", Content: content},
			},
		}).
		SetResult(&result).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("大模型请求失败: %w", err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("大模型请求失败，状态码: %d, 响应: %s", resp.StatusCode(), resp.String())
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("大模型响应为空")
	}
	return result.Choices[0].Message.Content, nil
}

// CallWithRetry 带重试的调用，重试间隔逐次递增
func (c *Client) CallWithRetry(ctx context.Context, prompt string, input string) (string, error) {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(i) * 2 * time.Second):
			}
		}

		out, err := c.Call(ctx, prompt, input)
		if err == nil {
			return out, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("大模型调用重试 %d 次后仍然失败: %w", c.maxRetries, lastErr)
}

// transcribeResponse 转写接口响应
type transcribeResponse struct {
	Text string `json:"text"`
}

// Transcribe 上传音频文件转写，返回 SRT 格式字幕文本
func (c *Client) Transcribe(ctx context.Context, audioPath string) (string, error) {
	var result transcribeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFile("file", audioPath).
		SetFormData(map[string]string{
			"model":           c.model,
			"response_format": "srt",
		}).
		SetResult(&result).
		Post("/audio/transcriptions")
	if err != nil {
		return "", fmt.Errorf("转写请求失败: %w", err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("转写请求失败，状态码: %d, 响应: %s", resp.StatusCode(), resp.String())
	}
	if result.Text == "" {
		return "", fmt.Errorf("转写结果为空")
	}
	return result.Text, nil
}

var jsonFencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ParseJSONResponse 清洗模型输出并反序列化
// 模型经常把 JSON 包在 markdown 代码块里，先剥掉围栏再解析
func ParseJSONResponse(response string, v any) error {
	cleaned := strings.TrimSpace(response)
	if m := jsonFencePattern.FindStringSubmatch(cleaned); m != nil {
		cleaned = m[1]
	}

	// 兜底：截取首个 { 或 [ 到末尾对应闭合符之间的内容
	if !strings.HasPrefix(cleaned, "{") && !strings.HasPrefix(cleaned, "[") {
		start := strings.IndexAny(cleaned, "{[")
		if start < 0 {
			return fmt.Errorf("模型输出中未找到 JSON 内容")
		}
		cleaned = cleaned[start:]
	}

	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("解析模型 JSON 输出失败: %w", err)
	}
	return nil
}
