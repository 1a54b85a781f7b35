package cover

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	coverWidth  = 1280
	coverHeight = 720
)

// Options 封面生成选项
type Options struct {
	Title     string
	Subtitle  string
	FramePath string // 可选，切片首帧截图，作为封面底图
}

// Generate 生成合集封面图并写入 outPath
// 有底图时压暗铺底，无底图时用纯色背景
func Generate(opts Options, outPath string) error {
	if opts.Title == "" {
		return fmt.Errorf("封面标题不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("创建封面目录失败: %w", err)
	}

	dc := gg.NewContext(coverWidth, coverHeight)

	if opts.FramePath != "" {
		frame, err := imaging.Open(opts.FramePath)
		if err != nil {
			return fmt.Errorf("打开底图失败: %w", err)
		}
		frame = imaging.Fill(frame, coverWidth, coverHeight, imaging.Center, imaging.Lanczos)
		frame = imaging.AdjustBrightness(frame, -35)
		dc.DrawImage(frame, 0, 0)
	} else {
		dc.SetColor(color.RGBA{R: 0x1f, G: 0x2a, B: 0x44, A: 0xff})
		dc.Clear()
	}

	titleFace, err := newFace(72)
	if err != nil {
		return err
	}
	subFace, err := newFace(36)
	if err != nil {
		return err
	}

	// 标题居中，副标题放在下方
	dc.SetFontFace(titleFace)
	dc.SetColor(color.White)
	dc.DrawStringWrapped(opts.Title, coverWidth/2, coverHeight/2-40, 0.5, 0.5, coverWidth-160, 1.3, gg.AlignCenter)

	if opts.Subtitle != "" {
		dc.SetFontFace(subFace)
		dc.SetColor(color.RGBA{R: 0xcc, G: 0xd5, B: 0xe0, A: 0xff})
		dc.DrawStringAnchored(opts.Subtitle, coverWidth/2, coverHeight-100, 0.5, 0.5)
	}

	if err := dc.SavePNG(outPath); err != nil {
		return fmt.Errorf("保存封面失败: %w", err)
	}
	return nil
}

// newFace 从内置字体创建指定字号的字体
func newFace(points float64) (font.Face, error) {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("解析内置字体失败: %w", err)
	}
	return truetype.NewFace(f, &truetype.Options{Size: points}), nil
}
