package contract

// KeyScorer: 密钥可信度评分。纯函数、无副作用，可被多个任务并发调用。
type KeyScorer interface {
	ScoreKey(key string) float64
}

// TextScorer: 明文可信度评分。纯函数、无副作用，可被多个任务并发调用。
type TextScorer interface {
	ScoreText(text string) float64
}

// Exporter: 将导出记录编码为人类可读的结构化文档。
type Exporter interface {
	// Ext 返回文件扩展名（不含点）。
	Ext() string
	Encode(rec ExportRecord) ([]byte, error)
}

// Scorer 同时提供密钥与明文评分（协调器在 crib-drag 与暴力阶段分别使用）。
type Scorer interface {
	KeyScorer
	TextScorer
}
