package contract

import "context"

// Reader: 输入源抽象（文件或 STDIN "-"）。
// 仅提供文本内容，不做密码学层面的解析。
type Reader interface {
	ReadText(ctx context.Context, src string) (string, error)
}
