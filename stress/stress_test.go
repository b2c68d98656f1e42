package stress

import (
	"context"
	"fmt"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cfgpkg "k4ai/internal/config"
	"k4ai/internal/coordinator"
	"k4ai/pkg/contract"
)

// "WEAREATBERLINCLOCKNOW" 以 KRYP 加密
const cipher = "GVYGORRQOIJXXTJDMBLDG"

// baseConfig 构造长度 4 的穷举任务（26^4 = 456976 个密钥）。
func baseConfig(workers int) cfgpkg.Config {
	cfg := cfgpkg.Defaults()
	cfg.Mode = string(contract.ModeBruteForce)
	cfg.Input.Ciphertext = cipher
	cfg.Search.KeyLength = 4
	cfg.Search.Discipline = string(contract.DisciplineExhaustive)
	cfg.Search.Workers = workers
	cfg.Logging.Level = "error"
	return cfg
}

// runSearch 执行完整运行并返回汇总。
func runSearch(t *testing.T, cfg cfgpkg.Config) (contract.Summary, error) {
	job, parts, err := cfgpkg.Assemble(context.Background(), cfg)
	if err != nil {
		return contract.Summary{}, err
	}
	r, err := coordinator.New(coordinator.Options{Scorer: parts.Scorer}).Start(context.Background(), job)
	if err != nil {
		return contract.Summary{}, err
	}
	for range r.Events() {
	}
	return r.Wait(), nil
}

// TestStress 在不同并发度下运行穷举搜索并记录延迟与吞吐统计。
func TestStress(t *testing.T) {
	if testing.Short() {
		t.Skip("stress: skipped in -short mode")
	}
	levels := []int{1, 2, 4, 8, 16}
	for _, workers := range levels {
		t.Run(fmt.Sprintf("workers_%d", workers), func(t *testing.T) {
			const runs = 3
			successes := 0
			latencies := make([]time.Duration, 0, runs)
			var rate float64
			for i := 0; i < runs; i++ {
				start := time.Now()
				sum, err := runSearch(t, baseConfig(workers))
				dur := time.Since(start)
				if err != nil {
					t.Errorf("run %d: %v", i, err)
					continue
				}
				require.Equal(t, uint64(456976), sum.Processed, "每个密钥恰好评估一次")
				require.NotEmpty(t, sum.Top, "运行 %d 无结果", i)
				require.Equal(t, "KRYP", sum.Top[0].Key)
				successes++
				latencies = append(latencies, dur)
				rate += sum.KeysPerSec
			}
			if successes == 0 {
				t.Fatalf("全部运行失败")
			}
			sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
			var total time.Duration
			for _, d := range latencies {
				total += d
			}
			avg := total / time.Duration(len(latencies))
			idx := int(math.Ceil(float64(len(latencies))*0.95)) - 1
			if idx < 0 {
				idx = 0
			}
			p95 := latencies[idx]
			t.Logf("并发%d 成功率%.2f 平均%v 95%%延迟%v 吞吐%.0f keys/s",
				workers, float64(successes)/float64(runs), avg, p95, rate/float64(successes))
		})
	}
}
