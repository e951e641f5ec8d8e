// Package binding resolves dotted paths such as "style.font[0].size" inside decoded
// JSON values and converts the result to typed Go values.
package binding

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Lookup 返回 data 中 path 指向的值；路径不存在时 ok 为 false。
func Lookup(data any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if data == nil || path == "" {
		return nil, false
	}
	return resolvePath(data, path)
}

// First 依次尝试多个路径，返回第一个存在的值。
func First(data any, paths ...string) (any, bool) {
	for _, p := range paths {
		if v, ok := Lookup(data, p); ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// Float 读取数值。接受 JSON 数字、整数以及可解析的数字字符串；NaN 与 Inf 视为不存在。
func Float(data any, paths ...string) (float64, bool) {
	v, ok := First(data, paths...)
	if !ok {
		return 0, false
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(n), "%")), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// String 读取字符串；数字与布尔值按 fmt.Sprint 转为文本，对象和数组视为不存在。
func String(data any, paths ...string) (string, bool) {
	v, ok := First(data, paths...)
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case map[string]any, []any:
		return "", false
	default:
		return fmt.Sprint(s), true
	}
}

// Bool 读取布尔值，也接受 "true"/"false" 字符串。
func Bool(data any, paths ...string) (bool, bool) {
	v, ok := First(data, paths...)
	if !ok {
		return false, false
	}
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, false
		}
		return parsed, true
	default:
		return false, false
	}
}

// Map 读取对象节点。
func Map(data any, path string) (map[string]any, bool) {
	v, ok := Lookup(data, path)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

func resolvePath(data any, path string) (any, bool) {
	current := data
	segments := strings.Split(path, ".")
	for _, segment := range segments {
		name, indexes := parseSegment(segment)
		if name != "" {
			var ok bool
			current, ok = descendMap(current, name)
			if !ok {
				return nil, false
			}
		}
		for _, idxStr := range indexes {
			idx, err := strconv.Atoi(idxStr)
			if err != nil {
				return nil, false
			}
			var ok bool
			current, ok = descendArray(current, idx)
			if !ok {
				return nil, false
			}
		}
	}
	return current, true
}

func parseSegment(segment string) (string, []string) {
	name := segment
	indexes := []string{}
	if i := strings.Index(segment, "["); i != -1 {
		name = segment[:i]
		rest := segment[i:]
		for len(rest) > 0 {
			if rest[0] != '[' {
				break
			}
			end := strings.IndexByte(rest, ']')
			if end == -1 {
				break
			}
			indexes = append(indexes, rest[1:end])
			rest = rest[end+1:]
		}
	}
	return name, indexes
}

func descendMap(current any, key string) (any, bool) {
	switch c := current.(type) {
	case map[string]any:
		val, ok := c[key]
		return val, ok
	case map[string]string:
		val, ok := c[key]
		return val, ok
	default:
		return nil, false
	}
}

func descendArray(current any, idx int) (any, bool) {
	switch c := current.(type) {
	case []any:
		if idx < 0 || idx >= len(c) {
			return nil, false
		}
		return c[idx], true
	case []map[string]any:
		if idx < 0 || idx >= len(c) {
			return nil, false
		}
		return c[idx], true
	default:
		return nil, false
	}
}
