package server

import (
	"time"

	"k4ai/internal/config"
	"k4ai/internal/coordinator"
	"k4ai/internal/keyspace"
	"k4ai/pkg/contract"
)

// JobRequest: POST /v1/jobs/<mode> 请求体。字段名沿用浏览器端的驼峰风格。
// 零值字段使用服务端配置中的默认值。
type JobRequest struct {
	Ciphertext     string            `json:"ciphertext" binding:"required"`
	Alphabet       string            `json:"alphabet"`
	Crib           string            `json:"crib"`
	MinKeyLength   int               `json:"minKeyLength" binding:"gte=0"`
	KeyLength      int               `json:"keyLength" binding:"gte=0"`
	KeyLengthMax   int               `json:"keyLengthMax" binding:"gte=0"`
	Workers        int               `json:"workers" binding:"gte=0,lte=256"`
	Targets        []string          `json:"targets" binding:"dive,required"`
	Words          []string          `json:"words" binding:"dive,required"`
	ScoreThreshold float64           `json:"scoreThreshold" binding:"gte=0"`
	MaxDurationMS  int64             `json:"maxDurationMs" binding:"gte=0"`
	MaxKeysPerTask uint64            `json:"maxKeysPerTask"`
	Discipline     string            `json:"discipline" binding:"omitempty,oneof=auto exhaustive heuristic"`
	TopK           int               `json:"topK" binding:"gte=0,lte=1000"`
	SampleLen      int               `json:"sampleLen" binding:"gte=0"`
	Seed           *uint64           `json:"seed"`
	Weights        *keyspace.Weights `json:"weights"`
	KeepCase       bool              `json:"keepCase"`
}

// apply 把请求叠加到模板上（非零覆盖），并统一大小写。
func (req JobRequest) apply(tpl coordinator.Job, mode contract.Mode) coordinator.Job {
	j := tpl
	j.Mode = mode
	j.Ciphertext = req.Ciphertext
	j.Crib = req.Crib
	if req.Alphabet != "" {
		j.Alphabet = req.Alphabet
	}
	if req.MinKeyLength != 0 {
		j.MinKeyLength = req.MinKeyLength
	}
	if req.KeyLength != 0 {
		j.KeyLength = req.KeyLength
		// 模板中的区间上限对新长度可能无效
		if j.KeyLengthMax < j.KeyLength {
			j.KeyLengthMax = 0
		}
	}
	if req.KeyLengthMax != 0 {
		j.KeyLengthMax = req.KeyLengthMax
	}
	if req.Workers != 0 {
		j.Workers = req.Workers
	}
	if len(req.Targets) > 0 {
		j.Targets = append([]string(nil), req.Targets...)
	}
	if len(req.Words) > 0 {
		j.Words = append([]string(nil), req.Words...)
	}
	if req.ScoreThreshold != 0 {
		j.ScoreThreshold = req.ScoreThreshold
	}
	if req.MaxDurationMS != 0 {
		j.MaxDuration = time.Duration(req.MaxDurationMS) * time.Millisecond
	}
	if req.MaxKeysPerTask != 0 {
		j.MaxKeysPerTask = req.MaxKeysPerTask
	}
	if req.Discipline != "" {
		j.Discipline = contract.Discipline(req.Discipline)
	}
	if req.TopK != 0 {
		j.TopK = req.TopK
	}
	if req.SampleLen != 0 {
		j.SampleLen = req.SampleLen
	}
	if req.Seed != nil {
		j.Seed = *req.Seed
	}
	if req.Weights != nil {
		j.Weights = *req.Weights
	}
	return config.Normalize(j, req.KeepCase)
}

// JobStatus: GET /v1/jobs/:id 响应。
type JobStatus struct {
	ID        string                  `json:"id"`
	Mode      contract.Mode           `json:"mode"`
	State     string                  `json:"state"`
	Processed uint64                  `json:"processed"`
	Created   time.Time               `json:"created"`
	Top       []contract.ScoredResult `json:"top"`
	Summary   *contract.Summary       `json:"summary,omitempty"`
}
