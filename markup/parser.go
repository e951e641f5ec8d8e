package markup

import (
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/ByLCY/carousel/layout"
)

// 加粗标记语法：**加粗**。单个 * 按普通字符处理。

const boldMarker = "**"

var (
	markupLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Marker", Pattern: `\*\*`},
		{Name: "Star", Pattern: `\*`},
		{Name: "Text", Pattern: `[^*]+`},
	})

	markupParser = participle.MustBuild[Markup](
		participle.Lexer(markupLexer),
	)
)

// Markup is the root AST node of an emphasis string.
type Markup struct {
	Runs []*Run `parser:"@@*"`
}

// Run is either a bold run or a plain run.
type Run struct {
	Bold  *BoldRun `parser:"  @@"`
	Plain string   `parser:"| @(Text | Star)+"`
}

// BoldRun captures the text between a pair of markers.
type BoldRun struct {
	Text string `parser:"Marker @(Text | Star)+ Marker"`
}

// ParseAST parses markup into its AST; malformed input (unbalanced markers) is an error.
func ParseAST(s string) (*Markup, error) {
	return markupParser.ParseString("", s)
}

// Parse 把带 **加粗** 标记的字符串转换为片段列表。
// 没有标记时返回一个与输入相同的非加粗片段；标记不成对时整体按普通文本处理。
func Parse(s string) []layout.Segment {
	if !strings.Contains(s, boldMarker) {
		return []layout.Segment{{Text: s}}
	}
	ast, err := ParseAST(s)
	if err != nil || len(ast.Runs) == 0 {
		return []layout.Segment{{Text: s}}
	}
	segs := make([]layout.Segment, 0, len(ast.Runs))
	for _, run := range ast.Runs {
		if run.Bold != nil {
			segs = append(segs, layout.Segment{Text: run.Bold.Text, Bold: true})
			continue
		}
		segs = append(segs, layout.Segment{Text: run.Plain})
	}
	return segs
}

// Format 是 Parse 的逆运算：加粗片段用 ** 包裹，其余原样输出。
func Format(segs []layout.Segment) string {
	var b strings.Builder
	for _, s := range segs {
		if s.Bold {
			b.WriteString(boldMarker)
			b.WriteString(s.Text)
			b.WriteString(boldMarker)
			continue
		}
		b.WriteString(s.Text)
	}
	return b.String()
}

// PlainText 返回去掉标记后的纯文本。
func PlainText(segs []layout.Segment) string {
	var b strings.Builder
	for _, s := range segs {
		b.WriteString(s.Text)
	}
	return b.String()
}
