package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// 支持的语言，顺序即匹配优先级，第一个为兜底语言
var supported = []language.Tag{
	language.Chinese,
	language.English,
}

var matcher = language.NewMatcher(supported)

var (
	loadOnce     sync.Once
	translations map[string]map[string]string
)

// load 读取内嵌的语言包
func load() {
	translations = make(map[string]map[string]string)
	for _, tag := range supported {
		name := tag.String()
		data, err := localeFS.ReadFile("locales/" + name + ".json")
		if err != nil {
			continue
		}
		var m map[string]string
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		translations[name] = m
	}
}

// Resolve 把客户端传来的语言标识解析为支持的语言
// 完全不匹配的语言回退到兜底语言，而不是接受匹配器的猜测
func Resolve(lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		return supported[0].String()
	}
	matched, _, conf := matcher.Match(tag)
	if conf == language.No {
		return supported[0].String()
	}
	base, _ := matched.Base()
	for _, t := range supported {
		if b, _ := t.Base(); b == base {
			return t.String()
		}
	}
	return supported[0].String()
}

// T 按语言取翻译文案，缺失时回退到中文，再缺失返回 key 本身
func T(key, lang string) string {
	loadOnce.Do(load)

	resolved := Resolve(lang)
	if m, ok := translations[resolved]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	if m, ok := translations[supported[0].String()]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	return key
}

// Tf 带格式化参数的翻译
func Tf(key, lang string, args ...any) string {
	return fmt.Sprintf(T(key, lang), args...)
}
