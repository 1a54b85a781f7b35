package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// CutClip 按起止时间切出片段，流拷贝不重编码
func CutClip(ctx context.Context, src string, startSec, endSec float64, out string) error {
	if endSec <= startSec {
		return fmt.Errorf("切片时间区间非法: %.2f-%.2f", startSec, endSec)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-ss", formatSeconds(startSec),
		"-to", formatSeconds(endSec),
		"-i", src,
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		out,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg 切片失败: %w, 输出: %s", err, tail(string(output)))
	}
	return nil
}

// Encode 转码为投稿规格（H.264/AAC），按已处理时长回调进度
func Encode(ctx context.Context, src, out string, report func(pct int)) error {
	duration, err := Probe(ctx, src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-i", src,
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "128k",
		"-progress", "pipe:1",
		"-nostats",
		out,
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("创建 ffmpeg 输出管道失败: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("启动 ffmpeg 失败: %w", err)
	}

	// -progress 输出 key=value 行，out_time_us 为已处理时长
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "out_time_us=") {
			continue
		}
		us, perr := strconv.ParseInt(strings.TrimPrefix(line, "out_time_us="), 10, 64)
		if perr != nil || duration <= 0 {
			continue
		}
		pct := int(float64(us) / 1e6 / duration * 100)
		if pct > 100 {
			pct = 100
		}
		if report != nil {
			report(pct)
		}
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg 转码失败: %w", err)
	}
	return nil
}

// ExtractAudio 抽取音轨为 AAC，转写前使用
func ExtractAudio(ctx context.Context, src, out string) error {
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-i", src,
		"-vn",
		"-c:a", "aac",
		"-b:a", "64k",
		out,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg 提取音频失败: %w, 输出: %s", err, tail(string(output)))
	}
	return nil
}

// Probe 用 ffprobe 读取视频时长（秒）
func Probe(ctx context.Context, src string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		src,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe 读取时长失败: %w", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("解析视频时长失败: %w", err)
	}
	return duration, nil
}

// formatSeconds 秒数转 ffmpeg 时间参数
func formatSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 3, 64)
}

// tail 取输出末尾，错误信息一般在最后几行
func tail(s string) string {
	if len(s) <= 400 {
		return s
	}
	return s[len(s)-400:]
}
