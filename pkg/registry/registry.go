package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"k4ai/pkg/contract"
	"k4ai/plugins/exporter"
	rfs "k4ai/plugins/reader/filesystem"
	"k4ai/plugins/scorer/english"
	wfs "k4ai/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: options: %w", contract.ErrConfiguration, err)
	}
	return nil
}

// NewScorer 工厂签名：原样 JSON Options 加上任务级线索（非空时覆盖 Options 中的同名项）。
type NewScorer func(raw json.RawMessage, targets, words []string) (contract.Scorer, error)

// NewExporter 工厂签名：接收原样 JSON Options。
type NewExporter func(raw json.RawMessage) (contract.Exporter, error)

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// Scorer 工厂注册表（显式、零反射）。
var Scorer = map[string]NewScorer{
	// english: 英文频率 + 已知明文线索
	"english": func(raw json.RawMessage, targets, words []string) (contract.Scorer, error) {
		var opts english.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		if len(targets) > 0 {
			opts.Targets = targets
		}
		if len(words) > 0 {
			opts.Words = words
		}
		// 两者都未给出时回落到 K4 公开线索
		if len(opts.Targets) == 0 && len(opts.Words) == 0 {
			opts.Targets = english.DefaultTargets
			opts.Words = english.DefaultWords
		}
		return english.New(&opts)
	},
}

// Exporter 工厂注册表。键同时是 --format 的取值。
var Exporter = map[string]NewExporter{
	"json": func(raw json.RawMessage) (contract.Exporter, error) {
		var opts exporter.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return exporter.NewJSON(&opts), nil
	},
	"yaml": func(raw json.RawMessage) (contract.Exporter, error) {
		var opts exporter.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return exporter.NewYAML(&opts), nil
	},
}

// Reader 工厂注册表。
var Reader = map[string]NewReader{
	// fs: 文件系统/STDIN Reader
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（覆盖写/原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}

// Names 返回注册表键的有序列表（用于错误提示与帮助文本）。
func Names[F any](m map[string]F) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
