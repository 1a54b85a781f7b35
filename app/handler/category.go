package handler

import (
	"autoclip/app/i18n"

	"github.com/gin-gonic/gin"
)

// CategoryHandler 视频分类配置
type CategoryHandler struct{}

// NewCategoryHandler 创建分类处理器
func NewCategoryHandler() *CategoryHandler {
	return &CategoryHandler{}
}

// categoryDef 分类定义，文案按语言翻译
type categoryDef struct {
	Value string
	Icon  string
	Color string
}

var categoryDefs = []categoryDef{
	{Value: "default", Icon: "🎬", Color: "#4facfe"},
	{Value: "knowledge", Icon: "📚", Color: "#52c41a"},
	{Value: "entertainment", Icon: "🎮", Color: "#722ed1"},
	{Value: "business", Icon: "💼", Color: "#fa8c16"},
}

// List 获取视频分类配置，文案按 lang 参数本地化
func (h *CategoryHandler) List(c *gin.Context) {
	lang := c.DefaultQuery("lang", "zh")

	categories := make([]gin.H, 0, len(categoryDefs))
	for _, def := range categoryDefs {
		categories = append(categories, gin.H{
			"value":       def.Value,
			"name":        i18n.T("cat_"+def.Value, lang),
			"description": i18n.T("cat_"+def.Value+"_desc", lang),
			"icon":        def.Icon,
			"color":       def.Color,
		})
	}

	respondOK(c, gin.H{"categories": categories}, "ok")
}
