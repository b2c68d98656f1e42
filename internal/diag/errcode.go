package diag

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"k4ai/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown Code = "unknown"
	CodeConfig  Code = "config"
	CodeSymbol  Code = "symbol"
	CodeTask    Code = "task"
	CodeBudget  Code = "budget"
	CodeCancel  Code = "cancel"
	CodeIO      Code = "io"
	CodeNetwork Code = "network"
)

// Classify 将错误归为最小分类。
// 仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 取消/超时优先
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	switch {
	case errors.Is(err, contract.ErrKeySpaceTooLarge):
		return CodeBudget
	case errors.Is(err, contract.ErrConfiguration), errors.Is(err, contract.ErrJobNotFound):
		return CodeConfig
	case errors.Is(err, contract.ErrUnknownSymbol), errors.Is(err, contract.ErrDecodeGap):
		return CodeSymbol
	case errors.Is(err, contract.ErrTaskFailure):
		return CodeTask
	case errors.Is(err, contract.ErrPathInvalid):
		return CodeIO
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}

// Report 记录错误日志并累加指标。logger 可为 nil（仅计数）。
func Report(l *Logger, comp, msg string, err error, jobID, taskID string) Code {
	code := Classify(err)
	if l != nil {
		l.ErrorWithKV(comp, string(code), msg, nil, jobID, taskID, map[string]string{"err": err.Error()})
	}
	IncOp(comp, "error", "error")
	if code != CodeUnknown {
		IncError(comp, string(code))
	}
	return code
}

// NowUTC 返回 RFC3339 UTC 时间字符串（用于结构化日志字段 ts）。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
