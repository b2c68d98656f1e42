package contract

// Mode: 任务模式。
type Mode string

const (
	ModeCribDrag   Mode = "cribdrag"
	ModeBruteForce Mode = "bruteforce"
	ModeHybrid     Mode = "hybrid"
)

// Discipline: 暴力搜索的密钥生成方式。
type Discipline string

const (
	// DisciplineAuto: N^L 不超过上限时穷举，否则启发式。
	DisciplineAuto       Discipline = "auto"
	DisciplineExhaustive Discipline = "exhaustive"
	DisciplineHeuristic  Discipline = "heuristic"
)

// Strategy: 启发式生成策略名。
type Strategy string

const (
	StrategyFrequency Strategy = "frequency"
	StrategyPattern   Strategy = "pattern"
	StrategyMarkov    Strategy = "markov"
	StrategyRandom    Strategy = "random"
	// StrategyEnumerate: 穷举区间（非启发式）。
	StrategyEnumerate Strategy = "enumerate"
	// StrategyCrib: 由 crib-drag 推导。
	StrategyCrib Strategy = "crib"
)

// Range: 密钥空间上的半开区间 [Start, End)。由单个任务独占。
type Range struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Len 返回区间大小；End <= Start 视为空。
func (r Range) Len() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// ScoredResult: 单个候选密钥的评分结果。一经发出即不可变。
// JSON 字段名与导出记录保持一致（key/keyLength/positions/decryptedSample/score）。
type ScoredResult struct {
	Key             string   `json:"key" yaml:"key"`
	KeyLength       int      `json:"keyLength" yaml:"keyLength"`
	Positions       []int    `json:"positions" yaml:"positions"`
	DecryptedSample string   `json:"decryptedSample" yaml:"decryptedSample"`
	Score           float64  `json:"score" yaml:"score"`
	Plaintext       string   `json:"plaintext,omitempty" yaml:"plaintext,omitempty"`
	Strategy        Strategy `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	TaskID          int      `json:"taskId,omitempty" yaml:"taskId,omitempty"`
}

// Clone 深拷贝 Positions，避免跨 goroutine 共享底层数组。
func (r ScoredResult) Clone() ScoredResult {
	out := r
	if r.Positions != nil {
		out.Positions = append([]int(nil), r.Positions...)
	}
	return out
}

// ExportRecord: 导出协作者持久化的扁平记录（除 positions 外无嵌套）。
type ExportRecord struct {
	Key             string  `json:"key" yaml:"key"`
	KeyLength       int     `json:"keyLength" yaml:"keyLength"`
	Positions       []int   `json:"positions" yaml:"positions"`
	DecryptedSample string  `json:"decryptedSample" yaml:"decryptedSample"`
	Score           float64 `json:"score" yaml:"score"`
	Alphabet        string  `json:"alphabet" yaml:"alphabet"`
	Ciphertext      string  `json:"ciphertext" yaml:"ciphertext"`
	KnownText       string  `json:"knownText" yaml:"knownText"`
}

// NewExportRecord 由结果与任务输入组装导出记录。
func NewExportRecord(r ScoredResult, alphabet, ciphertext, knownText string) ExportRecord {
	pos := r.Positions
	if pos == nil {
		pos = []int{}
	}
	return ExportRecord{
		Key:             r.Key,
		KeyLength:       r.KeyLength,
		Positions:       append([]int(nil), pos...),
		DecryptedSample: r.DecryptedSample,
		Score:           r.Score,
		Alphabet:        alphabet,
		Ciphertext:      ciphertext,
		KnownText:       knownText,
	}
}
