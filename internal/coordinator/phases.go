package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"k4ai/internal/codec"
	"k4ai/internal/cribdrag"
	"k4ai/internal/diag"
	"k4ai/internal/keyspace"
	"k4ai/internal/search"
	"k4ai/pkg/contract"
)

// cribPass 执行 crib-drag 并返回排序后的候选。
func (r *Run) cribPass(ctx context.Context) ([]contract.ScoredResult, error) {
	timer := (*diag.Timer)(nil)
	if r.logger != nil {
		timer = r.logger.StartWith("cribdrag", "analyze", r.job.ID, "")
	}
	last := -1
	results, st, err := cribdrag.Analyze(ctx, r.alpha, r.job.Ciphertext, r.job.Crib, r.scorer, cribdrag.Options{
		MinKeyLength: r.job.MinKeyLength,
		SampleLen:    r.job.SampleLen,
		OnProgress: func(p int) {
			if p == last {
				return
			}
			last = p
			r.progress(0, 0, 0, float64(p))
		},
	})
	if err != nil {
		return nil, err
	}
	if timer != nil {
		timer.Finish("analyze", int64(len(results)))
	}
	if st.Skipped > 0 && r.logger != nil {
		r.logger.InfoKV("cribdrag", "alignments skipped", r.job.ID, map[string]string{
			"skipped": strconv.Itoa(st.Skipped),
			"valid":   strconv.Itoa(st.Valid),
		})
	}
	return results, nil
}

// runCribDrag: 全部候选按排序依次发出；top-K 只保留前 K 个。
func (r *Run) runCribDrag(ctx context.Context) error {
	results, err := r.cribPass(ctx)
	if err != nil {
		return err
	}
	for _, res := range results {
		if ctx.Err() != nil {
			return nil
		}
		r.mu.Lock()
		r.top.Offer(res)
		r.mu.Unlock()
		rc := res.Clone()
		r.emit.must(contract.Event{Type: contract.EventResult, JobID: r.job.ID, Result: &rc, At: time.Now()})
		if r.job.ScoreThreshold > 0 && res.Score >= r.job.ScoreThreshold {
			r.halt("threshold")
		}
	}
	return nil
}

// runHybridCrib: 每个 crib 候选对齐到密文位置 0，完整解密后以明文评分并入 top-K。
func (r *Run) runHybridCrib(ctx context.Context) error {
	results, err := r.cribPass(ctx)
	if err != nil {
		return err
	}
	ct := []rune(r.job.Ciphertext)
	for _, cand := range results {
		if ctx.Err() != nil {
			return nil
		}
		if len(cand.Positions) == 0 {
			continue
		}
		key := cribdrag.AlignKey(cand.Key, cand.Positions[0])
		plain := r.alpha.Sample(ct, []rune(key), 0, len(ct), codec.Placeholder)
		sample := []rune(plain)
		if len(sample) > r.job.SampleLen {
			sample = sample[:r.job.SampleLen]
		}
		r.offer(contract.ScoredResult{
			Key:             key,
			KeyLength:       cand.KeyLength,
			Positions:       append([]int(nil), cand.Positions...),
			DecryptedSample: string(sample),
			Score:           r.searchScorer.ScoreText(plain),
			Plaintext:       plain,
			Strategy:        contract.StrategyCrib,
		})
	}
	return nil
}

// runPhases 按密钥长度升序逐阶段搜索。
func (r *Run) runPhases(ctx context.Context) error {
	filtered, dropped := r.alpha.Filter(r.job.Ciphertext)
	if dropped > 0 && r.logger != nil {
		r.logger.WarnKV("coordinator", "non-alphabet symbols dropped", r.job.ID, map[string]string{"dropped": strconv.Itoa(dropped)})
	}
	cipher, err := r.alpha.Encode(filtered)
	if err != nil {
		return err
	}
	// 位置按原始密文偏移上报，与 crib-drag 一致
	var offsets []int
	if dropped > 0 {
		offsets = r.alpha.Offsets(r.job.Ciphertext)
	}
	for l := r.job.KeyLength; l <= r.job.KeyLengthMax; l++ {
		if ctx.Err() != nil {
			return nil
		}
		if err := r.runPhase(ctx, cipher, offsets, l); err != nil {
			return err
		}
	}
	return nil
}

// usesExhaustive: exhaustive 强制；auto 且 N^L 不超过上限时穷举。
func (r *Run) usesExhaustive(l int) (bool, uint64) {
	size, err := keyspace.Size(r.alpha.Size(), l)
	switch r.job.Discipline {
	case contract.DisciplineExhaustive:
		return true, size
	case contract.DisciplineAuto:
		return err == nil && size <= r.job.ExhaustiveLimit, size
	default:
		return false, size
	}
}

func (r *Run) runPhase(ctx context.Context, cipher, offsets []int, l int) error {
	exhaustive, size := r.usesExhaustive(l)
	discipline := string(contract.DisciplineHeuristic)
	sources := make([]keyspace.Source, r.job.Workers)
	var total uint64
	if exhaustive {
		discipline = string(contract.DisciplineExhaustive)
		parts, err := keyspace.Partition(size, r.job.Workers)
		if err != nil {
			return err
		}
		for w, p := range parts {
			sources[w] = keyspace.NewEnumerator(p, r.alpha.Size())
		}
		total = size
	} else {
		base := r.generatorOptions(l)
		for w := range sources {
			g, err := keyspace.NewGenerator(base, keyspace.NewRand(r.job.Seed, uint64(l)<<32|uint64(w)))
			if err != nil {
				return err
			}
			sources[w] = keyspace.NewStream(g, r.job.MaxKeysPerTask)
		}
		total = r.job.MaxKeysPerTask * uint64(r.job.Workers)
	}

	jid := r.job.ID
	timer := (*diag.Timer)(nil)
	if r.logger != nil {
		timer = r.logger.StartWithKV("coordinator", "phase", jid, "", map[string]string{
			"key_length": strconv.Itoa(l),
			"discipline": discipline,
			"total":      strconv.FormatUint(total, 10),
		})
	}
	if t := diag.GetTerminal(); t != nil {
		t.PhaseStart(l, discipline, total)
	}

	tasks := make([]*search.Task, len(sources))
	for w, src := range sources {
		task, err := search.New(search.Config{
			ID:              w,
			JobID:           jid,
			KeyLength:       l,
			Source:          src,
			Alphabet:        r.alpha,
			Cipher:          cipher,
			Offsets:         offsets,
			Scorer:          r.searchScorer,
			BatchSize:       r.job.BatchSize,
			SampleLen:       r.job.SampleLen,
			PrefixLen:       r.job.PrefixLen,
			PrefixThreshold: r.job.PrefixThreshold,
			Logger:          r.logger,
		})
		if err != nil {
			return err
		}
		tasks[w] = task
	}

	events := make(chan contract.Event, 4*len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		g.Go(func() error {
			err := task.Run(gctx, events)
			if errors.Is(err, contract.ErrTaskFailure) {
				// 已作为 failure 事件上报；不取消其他任务
				return nil
			}
			return err
		})
	}
	go func() {
		_ = g.Wait()
		close(events)
	}()

	var phaseDone uint64
	for ev := range events {
		switch ev.Type {
		case contract.EventProgress:
			phaseDone += ev.Progress.Delta
			diag.AddKeys(discipline, ev.Progress.Delta)
			var pct float64
			if total > 0 {
				pct = float64(phaseDone) * 100 / float64(total)
			}
			r.progress(ev.Progress.Delta, total, l, pct)
		case contract.EventResult:
			r.offer(*ev.Result)
		case contract.EventFailure:
			r.failure(ev)
		}
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("phase L=%d: %w", l, err)
	}
	if timer != nil {
		timer.Finish("phase", int64(phaseDone))
	}
	return nil
}

// generatorOptions 由评分器数据构造生成器输入（高频字母、目标模式、二元语料）。
func (r *Run) generatorOptions(l int) keyspace.GeneratorOptions {
	opts := keyspace.GeneratorOptions{
		Size:          r.alpha.Size(),
		Length:        l,
		Weights:       r.job.Weights,
		TopLetterBias: r.job.TopLetterBias,
		AdaptRate:     r.job.AdaptRate,
	}
	if tl, ok := r.searchScorer.(interface{ TopLetters() []rune }); ok {
		for _, c := range tl.TopLetters() {
			if i, err := r.alpha.Index(c); err == nil {
				opts.TopLetters = append(opts.TopLetters, i)
			}
		}
	}
	if pp, ok := r.searchScorer.(interface{ Patterns() []string }); ok {
		for _, p := range pp.Patterns() {
			enc, err := r.alpha.Encode(p)
			if err != nil {
				continue
			}
			opts.Patterns = append(opts.Patterns, enc)
			opts.Corpus = append(opts.Corpus, enc)
		}
	}
	return opts
}
