package mediaclient

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"autoclip/app/model"

	gocache "github.com/patrickmn/go-cache"
	"resty.dev/v3"
)

// 平台常量
const (
	PlatformYouTube  = "youtube"
	PlatformBilibili = "bilibili"
)

// 已知平台的URL形状
var platformPatterns = map[string][]*regexp.Regexp{
	PlatformYouTube: {
		regexp.MustCompile(`^https?://(www\.)?youtube\.com/watch\?`),
		regexp.MustCompile(`^https?://youtu\.be/[\w-]+`),
	},
	PlatformBilibili: {
		regexp.MustCompile(`^https?://(www\.)?bilibili\.com/video/(BV[\w]+|av\d+)`),
		regexp.MustCompile(`^https?://b23\.tv/[\w]+`),
	},
}

// DetectPlatform 根据URL形状识别平台，识别失败返回空串
func DetectPlatform(url string) string {
	for platform, patterns := range platformPatterns {
		for _, p := range patterns {
			if p.MatchString(url) {
				return platform
			}
		}
	}
	return ""
}

// FetchResult 下载完成后的结果
type FetchResult struct {
	Info     model.VideoInfo
	FilePath string
}

// ProgressFunc 下载进度回调，pct 取值 0-100
type ProgressFunc func(pct int)

// Client 平台视频客户端，负责解析视频信息和拉取视频文件
type Client struct {
	http      *resty.Client
	infoCache *gocache.Cache
}

// New 创建平台视频客户端
func New(infoCacheTTL time.Duration) *Client {
	client := resty.New()
	client.SetTimeout(time.Minute * 30)
	client.SetHeader("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")

	if infoCacheTTL <= 0 {
		infoCacheTTL = 30 * time.Minute
	}

	return &Client{
		http:      client,
		infoCache: gocache.New(infoCacheTTL, 10*time.Minute),
	}
}

// parseResponse 平台解析接口的响应
type parseResponse struct {
	Title    string  `json:"title"`
	Uploader string  `json:"uploader"`
	Duration float64 `json:"duration"`
	FileURL  string  `json:"file_url"`
}

// ParseInfo 解析视频信息，同一URL的结果在TTL内走缓存
func (c *Client) ParseInfo(ctx context.Context, url string) (model.VideoInfo, error) {
	if cached, ok := c.infoCache.Get(url); ok {
		return cached.(model.VideoInfo), nil
	}

	parsed, err := c.parse(ctx, url)
	if err != nil {
		return model.VideoInfo{}, err
	}

	info := model.VideoInfo{
		Title:    parsed.Title,
		Uploader: parsed.Uploader,
		Duration: parsed.Duration,
	}
	c.infoCache.SetDefault(url, info)
	return info, nil
}

// parse 调用平台解析接口
func (c *Client) parse(ctx context.Context, url string) (*parseResponse, error) {
	platform := DetectPlatform(url)
	if platform == "" {
		return nil, fmt.Errorf("无法识别的视频地址: %s", url)
	}

	var result parseResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("url", url).
		SetResult(&result).
		Get(extractorEndpoint(platform))
	if err != nil {
		return nil, fmt.Errorf("解析视频信息失败: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("解析视频信息失败，状态码: %d, 响应: %s", resp.StatusCode(), resp.String())
	}
	if result.FileURL == "" {
		return nil, fmt.Errorf("解析响应缺少文件地址")
	}
	return &result, nil
}

// extractorEndpoint 各平台的解析服务地址
func extractorEndpoint(platform string) string {
	return fmt.Sprintf("http://127.0.0.1:9080/extract/%s", platform)
}

// Fetch 拉取视频到 saveDir，按字节进度回调
// ctx 取消时中断传输并删除半成品文件
func (c *Client) Fetch(ctx context.Context, url, saveDir string, report ProgressFunc) (*FetchResult, error) {
	parsed, err := c.parse(ctx, url)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(saveDir, 0755); err != nil {
		return nil, fmt.Errorf("创建保存目录失败: %w", err)
	}
	savePath := filepath.Join(saveDir, sanitizeFilename(parsed.Title)+".mp4")

	// 以流式响应下载文件内容
	resp, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(parsed.FileURL)
	if err != nil {
		return nil, fmt.Errorf("下载视频失败: %w", err)
	}
	body := resp.Body
	defer body.Close()

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("下载视频失败，状态码: %d", resp.StatusCode())
	}

	out, err := os.Create(savePath)
	if err != nil {
		return nil, fmt.Errorf("创建文件失败: %w", err)
	}

	total := resp.RawResponse.ContentLength
	if err := copyWithProgress(ctx, out, body, total, report); err != nil {
		out.Close()
		os.Remove(savePath)
		return nil, err
	}
	if err := out.Close(); err != nil {
		return nil, err
	}

	// 校验文件非空
	fi, err := os.Stat(savePath)
	if err != nil {
		return nil, fmt.Errorf("获取下载文件信息失败: %w", err)
	}
	if fi.Size() == 0 {
		os.Remove(savePath)
		return nil, fmt.Errorf("下载的文件为空: %s", savePath)
	}

	return &FetchResult{
		Info: model.VideoInfo{
			Title:    parsed.Title,
			Uploader: parsed.Uploader,
			Duration: parsed.Duration,
		},
		FilePath: savePath,
	}, nil
}

// copyWithProgress 带进度回调的拷贝，每变化一个百分点回调一次
func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, total int64, report ProgressFunc) error {
	buf := make([]byte, 1024*1024)
	var written int64
	lastPct := -1

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return fmt.Errorf("写入文件失败: %w", werr)
			}
			written += int64(n)
			if report != nil && total > 0 {
				pct := int(written * 100 / total)
				if pct > lastPct {
					lastPct = pct
					report(pct)
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("读取响应失败: %w", err)
		}
	}
}

// sanitizeFilename 去掉文件名中的非法字符
var unsafeFilenameChars = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f]`)

func sanitizeFilename(name string) string {
	cleaned := unsafeFilenameChars.ReplaceAllString(name, "_")
	if cleaned == "" {
		return "video"
	}
	if len(cleaned) > 120 {
		cleaned = cleaned[:120]
	}
	return cleaned
}
