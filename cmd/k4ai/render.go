package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"k4ai/internal/coordinator"
	"k4ai/pkg/contract"
)

var (
	colorAccent  = lipgloss.Color("#2CD7C7")
	colorBorder  = lipgloss.Color("#16858E")
	colorMuted   = lipgloss.Color("#5C7A84")
	colorWarning = lipgloss.Color("#F4D03F")
)

var styles = struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Key     lipgloss.Style
	Muted   lipgloss.Style
	Warning lipgloss.Style
	Card    lipgloss.Style
	Best    lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
	Label:   lipgloss.NewStyle().Foreground(colorMuted).Width(10),
	Key:     lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(colorMuted),
	Warning: lipgloss.NewStyle().Foreground(colorWarning),
	Card:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorBorder).Padding(0, 1),
	Best:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorAccent).Padding(0, 1),
}

// renderSummary 渲染运行汇总与 top-K 结果卡片。
func renderSummary(job coordinator.Job, sum contract.Summary) string {
	var b strings.Builder
	state := sum.State
	if sum.Reason != "" {
		state += " (" + sum.Reason + ")"
	}
	head := []string{
		styles.Title.Render("k4ai " + string(sum.Mode)),
		row("状态", state),
		row("已测", fmt.Sprintf("%d", sum.Processed)),
		row("用时", sum.Elapsed.Round(time.Millisecond).String()),
		row("速率", fmt.Sprintf("%.0f keys/s", sum.KeysPerSec)),
	}
	if job.Crib != "" {
		head = append(head, row("crib", job.Crib))
	}
	if sum.Seed != 0 {
		head = append(head, row("种子", strconv.FormatUint(sum.Seed, 10)))
	}
	b.WriteString(lipgloss.JoinVertical(lipgloss.Left, head...))
	b.WriteString("\n")

	if len(sum.Top) == 0 {
		b.WriteString(styles.Warning.Render("未找到候选密钥"))
		b.WriteString("\n")
	}
	for i, r := range sum.Top {
		b.WriteString(renderCard(i+1, r, i == 0))
		b.WriteString("\n")
	}
	for _, f := range sum.Failures {
		b.WriteString(styles.Warning.Render("failure: " + f))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderCard(rank int, r contract.ScoredResult, best bool) string {
	lines := []string{
		fmt.Sprintf("#%d  %s  %s", rank, styles.Key.Render(r.Key), styles.Muted.Render(fmt.Sprintf("L=%d score=%.2f", r.KeyLength, r.Score))),
		row("样本", r.DecryptedSample),
	}
	if len(r.Positions) > 0 {
		lines = append(lines, row("位置", joinInts(r.Positions)))
	}
	if r.Strategy != "" {
		lines = append(lines, row("来源", string(r.Strategy)))
	}
	st := styles.Card
	if best {
		st = styles.Best
	}
	return st.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, styles.Label.Render(label), value)
}

func joinInts(xs []int) string {
	const limit = 8
	parts := make([]string, 0, limit+1)
	for i, x := range xs {
		if i == limit {
			parts = append(parts, fmt.Sprintf("…(+%d)", len(xs)-limit))
			break
		}
		parts = append(parts, fmt.Sprintf("%d", x))
	}
	return strings.Join(parts, ", ")
}
