package utils

import (
	"encoding/json"
	"strings"

	"k8s.io/klog/v2"
)

// ExtractJSON 从文本中提取第一个完整的 JSON 对象
// 跳过字符串字面量中的花括号
func ExtractJSON(content string) string {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, ch := range content {
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if start != -1 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start != -1 {
				return content[start : i+1]
			}
		}
	}

	return content
}

func ToJSON(v any) string {
	jsonData, err := json.Marshal(v)
	if err != nil {
		klog.Errorf("JSON序列化失败: %v", err)
		return ""
	}
	return string(jsonData)
}

// UnwrapMarkdown 去掉包裹整篇回复的 ```markdown 代码块
// 只处理首尾都是围栏的情况，正文中的代码块保持原样
func UnwrapMarkdown(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") || len(trimmed) < 6 {
		return trimmed
	}

	firstLine, rest, found := strings.Cut(trimmed, "\n")
	if !found {
		return trimmed
	}
	lang := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(firstLine, "```")))
	if lang != "" && lang != "markdown" && lang != "md" {
		return trimmed
	}

	inner := strings.TrimSuffix(rest, "```")
	klog.V(6).Infof("[UnwrapMarkdown] 去掉外层 markdown 代码块，原长度: %d, 新长度: %d", len(trimmed), len(inner))
	return strings.TrimSpace(inner)
}
