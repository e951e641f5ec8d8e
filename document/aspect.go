package document

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// 画布宽度固定为 1080 像素，高度由宽高比决定。
const (
	CanvasWidth        = 1080
	DefaultAspectRatio = "4:5"
)

// 输出格式。
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
	FormatPDF  = "pdf"
)

var aspectHeights = map[string]int{
	"1:1":  1080,
	"4:5":  1350,
	"9:16": 1920,
}

// Canvas 返回宽高比对应的画布像素尺寸，未知宽高比按 4:5 处理。
func Canvas(ratio string) (w, h int) {
	if h, ok := aspectHeights[ratio]; ok {
		return CanvasWidth, h
	}
	return CanvasWidth, aspectHeights[DefaultAspectRatio]
}

// ValidAspectRatio 判断宽高比是否受支持。
func ValidAspectRatio(ratio string) bool {
	_, ok := aspectHeights[ratio]
	return ok
}

// NormalizeFormat 统一输出格式写法，"jpg" 视为 jpeg，未知值返回错误。
func NormalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatPNG:
		return FormatPNG, nil
	case "jpg", FormatJPEG:
		return FormatJPEG, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("不支持的输出格式：%s", format)
	}
}

var namedColors = map[string]color.NRGBA{
	"white":       {R: 255, G: 255, B: 255, A: 255},
	"black":       {A: 255},
	"transparent": {},
}

// ParseColor 解析 #rgb、#rrggbb、#rrggbbaa 以及少量颜色名。
func ParseColor(value string) (color.NRGBA, error) {
	value = strings.TrimSpace(value)
	if c, ok := namedColors[strings.ToLower(value)]; ok {
		return c, nil
	}
	hex := strings.TrimPrefix(value, "#")
	switch len(hex) {
	case 3:
		r, err1 := parseHexByte(strings.Repeat(string(hex[0]), 2))
		g, err2 := parseHexByte(strings.Repeat(string(hex[1]), 2))
		b, err3 := parseHexByte(strings.Repeat(string(hex[2]), 2))
		if err1 != nil || err2 != nil || err3 != nil {
			break
		}
		return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
	case 6, 8:
		r, err1 := parseHexByte(hex[0:2])
		g, err2 := parseHexByte(hex[2:4])
		b, err3 := parseHexByte(hex[4:6])
		if err1 != nil || err2 != nil || err3 != nil {
			break
		}
		a := uint8(255)
		if len(hex) == 8 {
			v, err := parseHexByte(hex[6:8])
			if err != nil {
				break
			}
			a = v
		}
		return color.NRGBA{R: r, G: g, B: b, A: a}, nil
	}
	return color.NRGBA{}, fmt.Errorf("颜色值 %s 无法解析", value)
}

// MustColor 解析颜色，失败时返回 fallback。
func MustColor(value string, fallback color.NRGBA) color.NRGBA {
	c, err := ParseColor(value)
	if err != nil {
		return fallback
	}
	return c
}

func parseHexByte(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0, err
	}
	return uint8(v), nil
}
