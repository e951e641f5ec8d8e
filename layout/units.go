package layout

import "math"

// 画布以像素为单位；tdewolff/canvas 以毫米为长度单位、以 pt 为字号单位。
// 渲染时按 1mm = 1px 建立画布，因此字号需要在边界处做 px(mm)→pt 换算。

// Conversion constants between pt and mm.
const (
	PtToMm = 0.352777
	MmToPt = 1.0 / PtToMm
)

// PxToPt 把以像素（即画布毫米）表示的字号换算为 pt。
func PxToPt(px float64) float64 { return px * MmToPt }

// PercentToPx 把相对画布边长的百分比换算为像素。
func PercentToPx(percent float64, side int) float64 {
	return percent / 100 * float64(side)
}

// PxToPercent 是 PercentToPx 的逆运算，side 为 0 时返回 0。
func PxToPercent(px float64, side int) float64 {
	if side == 0 {
		return 0
	}
	return px / float64(side) * 100
}

// Round 将像素坐标四舍五入为整数。
func Round(v float64) int { return int(math.Round(v)) }
