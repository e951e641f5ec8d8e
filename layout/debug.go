package layout

import (
	"encoding/json"
	"os"
)

// DebugBlock 是调试 JSON 中的一个文本块。
type DebugBlock struct {
	Slide   int     `json:"slide"`
	BlockID string  `json:"blockId"`
	Options Options `json:"options"`
	Lines   []Line  `json:"lines"`
}

// WriteDebugJSON 将排版结果输出为 JSON，便于比对预览与导出的换行。
func WriteDebugJSON(blocks []DebugBlock, path string) error {
	if len(blocks) == 0 {
		return nil
	}
	data, err := json.MarshalIndent(blocks, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
