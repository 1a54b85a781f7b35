package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"autoclip/app/config"
	"autoclip/app/database"
	"autoclip/app/logger"
	"autoclip/app/model"
	"autoclip/app/task"
	"autoclip/app/utils/ffmpeg"
	"autoclip/app/utils/llmclient"
	"autoclip/app/utils/mediaclient"

	"github.com/google/uuid"
)

// 分析提示词，输入为字幕文本
const (
	promptOutline  = "你是视频内容编辑。阅读下面的字幕文本，输出视频的内容大纲，JSON 数组，每项含 topic 和 summary 字段。"
	promptTimeline = "根据字幕文本和内容大纲，找出最适合切片的片段。输出 JSON 数组，每项含 start_sec、end_sec、reason 字段，片段时长控制在 30 到 180 秒。"
	promptScoring  = "对下面的候选片段逐个打分（0-10，保留一位小数），评估其独立成片的传播价值。输出 JSON 数组，每项含 start_sec、end_sec、score 字段，顺序与输入一致。"
	promptTitle    = "为下面的片段各起一个吸引人的标题，不超过 30 字。输出 JSON 数组，每项含 start_sec、end_sec、title 字段，顺序与输入一致。"
)

// DefaultPhaseHandlers 组装默认的五个阶段处理器，顺序与阶段顺序表一致
func DefaultPhaseHandlers(cfg *config.Config, log *logger.Logger, llm *llmclient.Client, publisher *mediaclient.Publisher) []PhaseHandler {
	return []PhaseHandler{
		&transcribeHandler{cfg: cfg, log: log, llm: llm},
		&analyzeHandler{cfg: cfg, log: log, llm: llm},
		&clipHandler{cfg: cfg, log: log},
		&encodeHandler{cfg: cfg, log: log},
		&publishHandler{cfg: cfg, log: log, publisher: publisher},
	}
}

// transcribeHandler 转写阶段：提取音频并转写为字幕
type transcribeHandler struct {
	cfg *config.Config
	log *logger.Logger
	llm *llmclient.Client
}

func (h *transcribeHandler) Phase() task.Phase { return task.PhaseTranscribe }

func (h *transcribeHandler) Run(ctx context.Context, in *PipelineInput, report ProgressFunc) error {
	project := in.Project

	// 已有字幕文件时跳过转写
	if project.SrtPath != "" {
		if _, err := os.Stat(project.SrtPath); err == nil {
			report(1, 1, "已有字幕文件，跳过转写")
			return nil
		}
	}

	const total = 3
	report(1, total, "提取音频")
	audioPath := filepath.Join(h.cfg.Pipeline.OutputDir, project.ID, "audio.m4a")
	if err := ffmpeg.ExtractAudio(ctx, project.VideoPath, audioPath); err != nil {
		return err
	}
	defer os.Remove(audioPath)

	report(2, total, "转写字幕")
	srt, err := h.llm.Transcribe(ctx, audioPath)
	if err != nil {
		return err
	}

	report(3, total, "写入字幕文件")
	srtPath := filepath.Join(h.cfg.Pipeline.OutputDir, project.ID, "subtitle.srt")
	if err := os.MkdirAll(filepath.Dir(srtPath), 0755); err != nil {
		return fmt.Errorf("创建字幕目录失败: %w", err)
	}
	if err := os.WriteFile(srtPath, []byte(srt), 0644); err != nil {
		return fmt.Errorf("写入字幕文件失败: %w", err)
	}

	project.SrtPath = srtPath
	if db := database.GetDB(); db != nil {
		if err := db.Model(&model.Project{}).Where("id = ?", project.ID).
			Update("srt_path", srtPath).Error; err != nil {
			h.log.Errorf("更新项目字幕路径失败: ProjectID=%s, 错误: %v", project.ID, err)
		}
	}
	return nil
}

// analyzeHandler 分析阶段：大纲、时间线、评分、标题四步
type analyzeHandler struct {
	cfg *config.Config
	log *logger.Logger
	llm *llmclient.Client
}

func (h *analyzeHandler) Phase() task.Phase { return task.PhaseAnalyze }

// segment 时间线候选片段
type segment struct {
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	Reason   string  `json:"reason,omitempty"`
	Score    float64 `json:"score,omitempty"`
	Title    string  `json:"title,omitempty"`
}

func (h *analyzeHandler) Run(ctx context.Context, in *PipelineInput, report ProgressFunc) error {
	project := in.Project

	srtData, err := os.ReadFile(project.SrtPath)
	if err != nil {
		return fmt.Errorf("读取字幕文件失败: %w", err)
	}
	transcript := string(srtData)

	const total = 4

	report(1, total, "生成内容大纲")
	outline, err := h.llm.CallWithRetry(ctx, promptOutline, transcript)
	if err != nil {
		return err
	}

	report(2, total, "定位精彩片段")
	timelineRaw, err := h.llm.CallWithRetry(ctx, promptTimeline, transcript+"\n\n大纲:\n"+outline)
	if err != nil {
		return err
	}
	var segments []segment
	if err := llmclient.ParseJSONResponse(timelineRaw, &segments); err != nil {
		return err
	}
	if len(segments) == 0 {
		return fmt.Errorf("分析结果中没有可用片段")
	}

	report(3, total, "片段评分")
	scoredRaw, err := h.llm.CallWithRetry(ctx, promptScoring, segmentsJSON(segments)+"\n\n字幕:\n"+transcript)
	if err != nil {
		return err
	}
	var scored []segment
	if err := llmclient.ParseJSONResponse(scoredRaw, &scored); err != nil {
		return err
	}
	mergeByIndex(segments, scored, func(dst *segment, src segment) { dst.Score = src.Score })

	report(4, total, "生成切片标题")
	titledRaw, err := h.llm.CallWithRetry(ctx, promptTitle, segmentsJSON(segments))
	if err != nil {
		return err
	}
	var titled []segment
	if err := llmclient.ParseJSONResponse(titledRaw, &titled); err != nil {
		return err
	}
	mergeByIndex(segments, titled, func(dst *segment, src segment) { dst.Title = src.Title })

	// 候选片段落库，后续阶段从库里读
	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("数据库未初始化")
	}
	if err := db.Where("project_id = ?", project.ID).Delete(&model.Clip{}).Error; err != nil {
		return fmt.Errorf("清理旧切片记录失败: %w", err)
	}
	for _, seg := range segments {
		clip := model.Clip{
			ID:        uuid.NewString(),
			ProjectID: project.ID,
			Title:     seg.Title,
			StartSec:  seg.StartSec,
			EndSec:    seg.EndSec,
			Score:     seg.Score,
		}
		if err := db.Create(&clip).Error; err != nil {
			return fmt.Errorf("保存切片记录失败: %w", err)
		}
	}

	h.log.Infof("分析完成: ProjectID=%s, 候选片段数=%d", project.ID, len(segments))
	return nil
}

// segmentsJSON 把片段列表编码为提示词输入
func segmentsJSON(segments []segment) string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, s := range segments {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, `{"start_sec":%.2f,"end_sec":%.2f,"title":%q}`, s.StartSec, s.EndSec, s.Title)
	}
	sb.WriteString("]")
	return sb.String()
}

// mergeByIndex 按下标把模型补充的字段合并回候选片段
func mergeByIndex(dst []segment, src []segment, merge func(*segment, segment)) {
	for i := range dst {
		if i < len(src) {
			merge(&dst[i], src[i])
		}
	}
}

// clipHandler 切片阶段：按候选片段逐个切出文件
type clipHandler struct {
	cfg *config.Config
	log *logger.Logger
}

func (h *clipHandler) Phase() task.Phase { return task.PhaseClip }

func (h *clipHandler) Run(ctx context.Context, in *PipelineInput, report ProgressFunc) error {
	project := in.Project
	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("数据库未初始化")
	}

	var clips []model.Clip
	if err := db.Where("project_id = ?", project.ID).Order("start_sec ASC").Find(&clips).Error; err != nil {
		return fmt.Errorf("读取切片记录失败: %w", err)
	}
	if len(clips) == 0 {
		return fmt.Errorf("没有待切片的记录")
	}

	for i, clip := range clips {
		// 步骤边界检查取消
		if ctx.Err() != nil {
			return ctx.Err()
		}

		out := filepath.Join(h.cfg.Pipeline.OutputDir, project.ID, "clips", clip.ID+".mp4")
		if err := ffmpeg.CutClip(ctx, project.VideoPath, clip.StartSec, clip.EndSec, out); err != nil {
			return err
		}

		if err := db.Model(&model.Clip{}).Where("id = ?", clip.ID).
			Update("file_path", out).Error; err != nil {
			return fmt.Errorf("更新切片文件路径失败: %w", err)
		}
		report(i+1, len(clips), fmt.Sprintf("已切片 %d/%d", i+1, len(clips)))
	}
	return nil
}

// encodeHandler 转码阶段：把切片转码为投稿规格
type encodeHandler struct {
	cfg *config.Config
	log *logger.Logger
}

func (h *encodeHandler) Phase() task.Phase { return task.PhaseEncode }

func (h *encodeHandler) Run(ctx context.Context, in *PipelineInput, report ProgressFunc) error {
	project := in.Project
	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("数据库未初始化")
	}

	var clips []model.Clip
	if err := db.Where("project_id = ? AND file_path <> ''", project.ID).Find(&clips).Error; err != nil {
		return fmt.Errorf("读取切片记录失败: %w", err)
	}
	if len(clips) == 0 {
		return fmt.Errorf("没有待转码的切片")
	}

	for i, clip := range clips {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		out := filepath.Join(h.cfg.Pipeline.OutputDir, project.ID, "encoded", clip.ID+".mp4")
		if err := ffmpeg.Encode(ctx, clip.FilePath, out, nil); err != nil {
			return err
		}

		fi, err := os.Stat(out)
		if err != nil {
			return fmt.Errorf("读取转码输出失败: %w", err)
		}
		if err := db.Model(&model.Clip{}).Where("id = ?", clip.ID).
			Updates(map[string]any{"file_path": out, "file_size": fi.Size()}).Error; err != nil {
			return fmt.Errorf("更新切片记录失败: %w", err)
		}
		report(i+1, len(clips), fmt.Sprintf("已转码 %d/%d", i+1, len(clips)))
	}
	return nil
}

// publishHandler 投稿阶段：把评分最高的切片投稿到平台
// 未配置可用账号时本阶段直接通过，不算失败
type publishHandler struct {
	cfg       *config.Config
	log       *logger.Logger
	publisher *mediaclient.Publisher
}

func (h *publishHandler) Phase() task.Phase { return task.PhaseUpload }

func (h *publishHandler) Run(ctx context.Context, in *PipelineInput, report ProgressFunc) error {
	project := in.Project
	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("数据库未初始化")
	}

	var account model.PlatformAccount
	if err := db.Where("status = ?", model.AccountStatusActive).First(&account).Error; err != nil {
		report(1, 1, "未配置投稿账号，跳过投稿")
		return nil
	}
	if !account.IsAvailable() {
		report(1, 1, "投稿账号不可用，跳过投稿")
		return nil
	}

	var best model.Clip
	if err := db.Where("project_id = ? AND file_path <> ''", project.ID).
		Order("score DESC").First(&best).Error; err != nil {
		return fmt.Errorf("没有可投稿的切片: %w", err)
	}

	const total = 2
	report(1, total, "上传视频文件")
	result, err := h.publisher.Publish(ctx, best.FilePath, mediaclient.PublishMeta{
		Title:  best.Title,
		Tags:   project.Category,
		Cookie: account.Cookie,
	}, nil)
	if err != nil {
		return err
	}

	report(2, total, fmt.Sprintf("投稿完成: %s", result.BvID))
	h.log.Infof("流水线投稿完成: ProjectID=%s, ClipID=%s, BvID=%s", project.ID, best.ID, result.BvID)
	return nil
}
