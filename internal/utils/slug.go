package utils

import (
	"strings"

	"github.com/google/uuid"
)

const (
	slugBaseMaxLen = 40
	slugSuffixLen  = 4
)

// MakeSlug 由标题生成 URL 标识：小写，非字母数字折叠为 "-"，截断后追加随机后缀
func MakeSlug(title string) string {
	return MakeSlugWithSuffix(title, RandomSuffix())
}

func MakeSlugWithSuffix(title, suffix string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(title) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}

	base := strings.Trim(b.String(), "-")
	if len(base) > slugBaseMaxLen {
		base = strings.TrimRight(base[:slugBaseMaxLen], "-")
	}
	if base == "" {
		base = "syllabus"
	}
	return base + "-" + suffix
}

// RandomSuffix 取 UUID 的前 4 个十六进制字符
func RandomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:slugSuffixLen]
}
