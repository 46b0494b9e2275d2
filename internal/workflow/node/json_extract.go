// Package node 提供模型输出的解析辅助
package node

import (
	"encoding/json"
	"fmt"
	"strings"

	"content-pipeline-api/internal/workflow/port"
)

// ExtractJSONObject 截取模型输出中第一个完整的 JSON 对象或数组，容忍前后夹杂的说明文字和代码围栏
func ExtractJSONObject(s string) string {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return raw
	}

	objStart := strings.Index(raw, "{")
	arrStart := strings.Index(raw, "[")
	start, end := -1, -1
	switch {
	case objStart >= 0 && (arrStart < 0 || objStart < arrStart):
		start = objStart
		end = strings.LastIndex(raw, "}")
	case arrStart >= 0:
		start = arrStart
		end = strings.LastIndex(raw, "]")
	}
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

// DecodeJSON 解析模型输出，失败时返回包装了 port.ErrMalformedOutput 的错误
func DecodeJSON[T any](text string) (T, error) {
	var out T
	raw := ExtractJSONObject(text)
	if raw == "" {
		return out, fmt.Errorf("%w: empty output", port.ErrMalformedOutput)
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, fmt.Errorf("%w: %v", port.ErrMalformedOutput, err)
	}
	return out, nil
}
