package mediaclient

import (
	"context"
	"fmt"
	"os"
	"time"

	"resty.dev/v3"
)

// PublishMeta 投稿元数据
type PublishMeta struct {
	Title       string
	PartitionID int
	Tags        string
	Cookie      string
}

// PublishResult 投稿成功后平台返回的稿件号
type PublishResult struct {
	BvID string `json:"bvid"`
	AvID int64  `json:"aid"`
}

// uploadChunkSize 分片上传的分片大小
const uploadChunkSize = 8 * 1024 * 1024

// Publisher 投稿客户端，分片上传视频并提交稿件
type Publisher struct {
	http *resty.Client
}

// NewPublisher 创建投稿客户端
func NewPublisher(baseURL string) *Publisher {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(time.Minute * 10)

	return &Publisher{http: client}
}

// preuploadResponse 预上传接口响应
type preuploadResponse struct {
	UploadID  string `json:"upload_id"`
	UploadURL string `json:"upload_url"`
}

// Publish 上传文件并提交稿件，ctx 取消时在分片边界停止
// 进度回调按已上传字节比例计算
func (p *Publisher) Publish(ctx context.Context, filePath string, meta PublishMeta, report ProgressFunc) (*PublishResult, error) {
	fi, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取待投稿文件失败: %w", err)
	}
	fileSize := fi.Size()
	if fileSize == 0 {
		return nil, fmt.Errorf("待投稿文件为空: %s", filePath)
	}

	// 预上传，申请上传会话
	var pre preuploadResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetHeader("Cookie", meta.Cookie).
		SetQueryParam("size", fmt.Sprintf("%d", fileSize)).
		SetResult(&pre).
		Post("/preupload")
	if err != nil {
		return nil, fmt.Errorf("预上传请求失败: %w", err)
	}
	if resp.StatusCode() != 200 || pre.UploadID == "" {
		return nil, fmt.Errorf("预上传失败，状态码: %d, 响应: %s", resp.StatusCode(), resp.String())
	}

	// 分片上传，每个分片之间检查取消
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("打开待投稿文件失败: %w", err)
	}
	defer f.Close()

	buf := make([]byte, uploadChunkSize)
	var uploaded int64
	chunk := 0
	for uploaded < fileSize {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		n, rerr := f.Read(buf)
		if n > 0 {
			chunk++
			resp, err := p.http.R().
				SetContext(ctx).
				SetHeader("Cookie", meta.Cookie).
				SetQueryParam("upload_id", pre.UploadID).
				SetQueryParam("chunk", fmt.Sprintf("%d", chunk)).
				SetBody(buf[:n]).
				Put(pre.UploadURL)
			if err != nil {
				return nil, fmt.Errorf("上传分片 %d 失败: %w", chunk, err)
			}
			if resp.StatusCode() != 200 {
				return nil, fmt.Errorf("上传分片 %d 失败，状态码: %d", chunk, resp.StatusCode())
			}

			uploaded += int64(n)
			if report != nil {
				report(int(uploaded * 100 / fileSize))
			}
		}
		if rerr != nil {
			break
		}
	}
	if uploaded < fileSize {
		return nil, fmt.Errorf("文件上传不完整: %d/%d", uploaded, fileSize)
	}

	// 提交稿件
	var result PublishResult
	resp, err = p.http.R().
		SetContext(ctx).
		SetHeader("Cookie", meta.Cookie).
		SetBody(map[string]any{
			"upload_id": pre.UploadID,
			"title":     meta.Title,
			"tid":       meta.PartitionID,
			"tags":      meta.Tags,
		}).
		SetResult(&result).
		Post("/submit")
	if err != nil {
		return nil, fmt.Errorf("提交稿件失败: %w", err)
	}
	if resp.StatusCode() != 200 || result.BvID == "" {
		return nil, fmt.Errorf("提交稿件失败，状态码: %d, 响应: %s", resp.StatusCode(), resp.String())
	}

	return &result, nil
}
