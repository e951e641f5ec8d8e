package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrUnsupportedVersion 表示文档版本比当前程序支持的更新。
var ErrUnsupportedVersion = errors.New("document: 不支持的文档版本")

// migration 把 version 为 from 的原始文档升级到 from+1。
type migration struct {
	from  int
	apply func(raw map[string]any)
}

var migrations = []migration{
	{from: 1, apply: migrateV1},
	{from: 2, apply: migrateV2},
}

// Decode 读取持久化 JSON，依次执行版本迁移后再解码为 Document。
// 缺少 version 字段的文档按 v1 处理。
func Decode(r io.Reader) (*Document, error) {
	var raw map[string]any
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("解析文档 JSON 失败: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("解析文档 JSON 失败: 文档为空")
	}

	version, err := rawVersion(raw)
	if err != nil {
		return nil, err
	}
	if version > CurrentVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	for _, m := range migrations {
		if version == m.from {
			m.apply(raw)
			version++
		}
	}
	raw["version"] = CurrentVersion

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("迁移文档失败: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("解码文档失败: %w", err)
	}
	doc.Normalize()
	return &doc, nil
}

// Encode 以当前版本写出文档。
func Encode(w io.Writer, doc *Document) error {
	if doc == nil {
		return fmt.Errorf("写出文档失败: 文档为空")
	}
	out := doc.Clone()
	out.Version = CurrentVersion
	out.Normalize()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("写出文档失败: %w", err)
	}
	return nil
}

func rawVersion(raw map[string]any) (int, error) {
	v, ok := raw["version"]
	if !ok || v == nil {
		return 1, nil
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("文档版本号无效: %v", v)
	}
	i, err := n.Int64()
	if err != nil || i < 1 {
		return 0, fmt.Errorf("文档版本号无效: %v", v)
	}
	return int(i), nil
}

func rawSlides(raw map[string]any) []map[string]any {
	var out []map[string]any
	for _, key := range []string{"slides", "originalSlides"} {
		list, _ := raw[key].([]any)
		for _, item := range list {
			if s, ok := item.(map[string]any); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// v1 → v2：补齐 overlays、groups、tint。
func migrateV1(raw map[string]any) {
	for _, s := range rawSlides(raw) {
		if _, ok := s["overlays"].([]any); !ok {
			s["overlays"] = []any{}
		}
		if _, ok := s["groups"].([]any); !ok {
			s["groups"] = []any{}
		}
		if _, ok := s["tint"]; !ok {
			s["tint"] = nil
		}
	}
}

// v2 → v3：补齐元素的 zIndex（文本块在前，叠加图片在后），以及文档级的宽高比和输出格式。
func migrateV2(raw map[string]any) {
	for _, s := range rawSlides(raw) {
		z := 0
		for _, key := range []string{"textBlocks", "overlays"} {
			list, _ := s[key].([]any)
			for _, item := range list {
				if el, ok := item.(map[string]any); ok {
					if _, has := el["zIndex"]; !has {
						el["zIndex"] = z
					}
				}
				z++
			}
		}
	}
	if r, _ := raw["aspectRatio"].(string); r == "" {
		raw["aspectRatio"] = DefaultAspectRatio
	}
	if f, _ := raw["outputFormat"].(string); f == "" {
		raw["outputFormat"] = FormatPNG
	}
}

// Normalize 把 nil 切片换成空切片，保证写出的 JSON 总是数组。
func (d *Document) Normalize() {
	if d.Slides == nil {
		d.Slides = []Slide{}
	}
	if d.OriginalSlides == nil {
		d.OriginalSlides = []Slide{}
	}
	for i := range d.Slides {
		d.Slides[i].Normalize()
	}
	for i := range d.OriginalSlides {
		d.OriginalSlides[i].Normalize()
	}
}

func (s *Slide) Normalize() {
	if s.TextBlocks == nil {
		s.TextBlocks = []TextBlock{}
	}
	if s.Overlays == nil {
		s.Overlays = []Overlay{}
	}
	if s.Groups == nil {
		s.Groups = []Group{}
	}
}
