package contract

import (
	"strings"
	"unicode"
)

// ArtifactFor 由密钥与扩展名构造导出文件名：kryptos-key-<KEY>.<ext>。
// 规则：
// - 密钥中的路径分隔符、控制字符与空白替换为 '_'；
// - 其他可打印字符原样保留（字母表可包含非 ASCII 符号）；
// - 空密钥映射为 "_"。
func ArtifactFor(key, ext string) ArtifactID {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '.':
			b.WriteByte('_')
		case unicode.IsControl(r) || unicode.IsSpace(r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	name := b.String()
	if name == "" {
		name = "_"
	}
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		return ArtifactID("kryptos-key-" + name)
	}
	return ArtifactID("kryptos-key-" + name + "." + ext)
}
