package layout

// Typesetter 负责把分段文本按盒子约束拆成行与词。
// 预览与导出各有一个实现，二者对同一输入必须给出相同的换行位置。
type Typesetter interface {
	LayoutSegments(segs []Segment, opts Options) ([]Line, error)
}

// Measurer 返回一段文本在指定字重与字号下的原始前进宽度（不含字间距/词间距）。
type Measurer interface {
	Advance(text string, weight int, fontSize float64) (float64, error)
}

// MeasurerFunc 让普通函数满足 Measurer。
type MeasurerFunc func(text string, weight int, fontSize float64) (float64, error)

func (f MeasurerFunc) Advance(text string, weight int, fontSize float64) (float64, error) {
	return f(text, weight, fontSize)
}
