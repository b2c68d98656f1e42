package exporter

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"k4ai/pkg/contract"
)

// Options: 导出格式选项。
type Options struct {
	// Indent: 缩进空格数；<=0 使用 2。
	Indent int `json:"indent" yaml:"indent"`
}

func indentOf(opts *Options) int {
	if opts == nil || opts.Indent <= 0 {
		return 2
	}
	return opts.Indent
}

// JSON 以缩进 JSON 导出记录，末尾带换行。
type JSON struct{ indent string }

// NewJSON 创建 JSON 导出器。
func NewJSON(opts *Options) *JSON {
	return &JSON{indent: string(bytes.Repeat([]byte{' '}, indentOf(opts)))}
}

func (*JSON) Ext() string { return "json" }

func (e *JSON) Encode(rec contract.ExportRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	// 字母表/样本可能含 '<' '&' 等符号，保持原样
	enc.SetEscapeHTML(false)
	enc.SetIndent("", e.indent)
	if err := enc.Encode(normalize(rec)); err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return buf.Bytes(), nil
}

// YAML 以 YAML 文档导出记录。
type YAML struct{ indent int }

// NewYAML 创建 YAML 导出器。
func NewYAML(opts *Options) *YAML { return &YAML{indent: indentOf(opts)} }

func (*YAML) Ext() string { return "yaml" }

func (e *YAML) Encode(rec contract.ExportRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(e.indent)
	if err := enc.Encode(normalize(rec)); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// normalize: positions 恒为列表（nil 导出为 []）。
func normalize(rec contract.ExportRecord) contract.ExportRecord {
	if rec.Positions == nil {
		rec.Positions = []int{}
	}
	return rec
}

var (
	_ contract.Exporter = (*JSON)(nil)
	_ contract.Exporter = (*YAML)(nil)
)
