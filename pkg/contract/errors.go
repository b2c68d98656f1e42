package contract

import "errors"

// 最小错误分类（哨兵）；调用方以 %w 包装，使用 errors.Is 判定。
var (
	// ErrConfiguration: 任务参数非法（字母表为空/重复、密钥长度非正、crib 过短、并发度 < 1 等）。
	// 在任何任务启动前同步返回。
	ErrConfiguration = errors.New("configuration error")
	// ErrUnknownSymbol: 符号不在字母表中。crib-drag 中仅跳过当前对齐，不致命。
	ErrUnknownSymbol = errors.New("unknown symbol")
	// ErrDecodeGap: 构造展示样本时遇到未知符号；仅用于分类，样本以占位符降级，不返回该错误。
	ErrDecodeGap = errors.New("decode gap")
	// ErrTaskFailure: 单个搜索任务内部意外故障；其他任务继续。
	ErrTaskFailure = errors.New("task failure")
	// ErrKeySpaceTooLarge: N^L 超出可枚举范围（uint64 溢出）。
	ErrKeySpaceTooLarge = errors.New("key space too large")
	// ErrJobNotFound: 按 ID 查询的任务不存在。
	ErrJobNotFound = errors.New("job not found")
	// ErrPathInvalid: 导出目标映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
)
