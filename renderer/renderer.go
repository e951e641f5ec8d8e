package renderer

import (
	"context"
	"image"

	"github.com/ByLCY/carousel/document"
)

// Renderer 将一张已解析的幻灯片输出为编码后的图像字节（PNG 或 JPEG）。
type Renderer interface {
	RenderSlide(ctx context.Context, slide document.Slide, opts RenderOptions) ([]byte, error)
}

// RenderOptions 描述输出尺寸与编码。
type RenderOptions struct {
	AspectRatio string
	Format      string
	Quality     int // JPEG 质量，0 表示默认值
}

// ImageFetcher 按引用（built-in:、data:、http(s):// 或文件路径）读取位图。
type ImageFetcher interface {
	Fetch(ctx context.Context, ref string) (image.Image, error)
}
