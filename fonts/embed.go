package fonts

import (
	"fmt"
	"strings"

	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gomedium"
	"golang.org/x/image/font/gofont/goregular"
)

// 内置字体来自 golang.org/x/image 的 Go 字体族，预览与导出共用同一份字形数据，
// 这是两端测量结果一致的前提。
var builtin = map[string][]byte{
	"Go-Regular": goregular.TTF,
	"Go-Medium":  gomedium.TTF,
	"Go-Bold":    gobold.TTF,
}

// Load 返回内置字体的字节数据，name 可写为 "embed:Go-Bold" 或直接 "Go-Bold"。
func Load(name string) ([]byte, error) {
	name = strings.TrimPrefix(name, "embed:")
	data, ok := builtin[name]
	if !ok {
		return nil, fmt.Errorf("读取内置字体 %s 失败: 不存在", name)
	}
	return data, nil
}

// NameForWeight 返回给定 CSS 字重对应的内置字体名。
// 700 与 800 共用粗体字形；500-600 使用 Medium。
func NameForWeight(weight int) string {
	switch {
	case weight >= 650:
		return "Go-Bold"
	case weight >= 500:
		return "Go-Medium"
	default:
		return "Go-Regular"
	}
}
