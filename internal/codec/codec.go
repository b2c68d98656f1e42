package codec

import (
	"fmt"
	"strings"

	"k4ai/pkg/contract"
)

// Placeholder 为展示样本中未知符号的占位字符。
const Placeholder = '?'

// Alphabet: 有序、无重复的符号序列，定义 symbol ↔ [0,N) 双射。
// 构造后只读，可被多个任务并发使用。
type Alphabet struct {
	symbols []rune
	index   map[rune]int
	text    string
}

// NewAlphabet 校验并构造字母表（N >= 2，无重复符号）。
func NewAlphabet(s string) (*Alphabet, error) {
	rs := []rune(s)
	if len(rs) < 2 {
		return nil, fmt.Errorf("%w: alphabet needs at least 2 symbols, got %d", contract.ErrConfiguration, len(rs))
	}
	idx := make(map[rune]int, len(rs))
	for i, r := range rs {
		if _, dup := idx[r]; dup {
			return nil, fmt.Errorf("%w: duplicate symbol %q in alphabet", contract.ErrConfiguration, r)
		}
		idx[r] = i
	}
	return &Alphabet{symbols: rs, index: idx, text: s}, nil
}

// Size 返回 N。
func (a *Alphabet) Size() int { return len(a.symbols) }

// String 返回原始字母表文本。
func (a *Alphabet) String() string { return a.text }

// Index 返回符号的下标；不在字母表中返回 ErrUnknownSymbol。
func (a *Alphabet) Index(r rune) (int, error) {
	i, ok := a.index[r]
	if !ok {
		return -1, fmt.Errorf("%w: %q", contract.ErrUnknownSymbol, r)
	}
	return i, nil
}

// Contains 判定符号是否属于字母表。
func (a *Alphabet) Contains(r rune) bool {
	_, ok := a.index[r]
	return ok
}

// Symbol 返回下标对应的符号；调用方保证 0 <= i < N。
func (a *Alphabet) Symbol(i int) rune { return a.symbols[i] }

// DecryptAt = (c − k + n) mod n
func DecryptAt(c, k, n int) int { return ((c-k)%n + n) % n }

// EncryptAt = (p + k) mod n
func EncryptAt(p, k, n int) int { return (p + k) % n }

// Encode 将文本映射为下标序列；遇到未知符号返回带位置的 ErrUnknownSymbol。
func (a *Alphabet) Encode(s string) ([]int, error) {
	out := make([]int, 0, len(s))
	pos := 0
	for _, r := range s {
		i, ok := a.index[r]
		if !ok {
			return nil, fmt.Errorf("%w: %q at position %d", contract.ErrUnknownSymbol, r, pos)
		}
		out = append(out, i)
		pos++
	}
	return out, nil
}

// Decode 将下标序列还原为文本。
func (a *Alphabet) Decode(idx []int) string {
	var b strings.Builder
	b.Grow(len(idx))
	for _, i := range idx {
		b.WriteRune(a.symbols[i])
	}
	return b.String()
}

// Filter 去除不在字母表中的符号，返回过滤后文本与丢弃数量。
func (a *Alphabet) Filter(s string) (string, int) {
	var b strings.Builder
	dropped := 0
	for _, r := range s {
		if a.Contains(r) {
			b.WriteRune(r)
			continue
		}
		dropped++
	}
	return b.String(), dropped
}

// Offsets 返回 Filter 保留的每个符号在原文中的符号偏移。
func (a *Alphabet) Offsets(s string) []int {
	out := make([]int, 0, len(s))
	i := 0
	for _, r := range s {
		if a.Contains(r) {
			out = append(out, i)
		}
		i++
	}
	return out
}

// Encrypt 以循环密钥加密：位置 i 使用 key[i mod len(key)]。
func (a *Alphabet) Encrypt(plain, key string) (string, error) {
	return a.apply(plain, key, EncryptAt)
}

// Decrypt 以循环密钥解密：位置 i 使用 key[i mod len(key)]。
func (a *Alphabet) Decrypt(cipher, key string) (string, error) {
	return a.apply(cipher, key, DecryptAt)
}

func (a *Alphabet) apply(text, key string, op func(x, k, n int) int) (string, error) {
	ks, err := a.Encode(key)
	if err != nil {
		return "", fmt.Errorf("key: %w", err)
	}
	if len(ks) == 0 {
		return "", fmt.Errorf("%w: empty key", contract.ErrConfiguration)
	}
	xs, err := a.Encode(text)
	if err != nil {
		return "", fmt.Errorf("text: %w", err)
	}
	out := make([]int, len(xs))
	ApplyInto(out, xs, ks, len(a.symbols), op)
	return a.Decode(out), nil
}

// DecryptInto 为热路径：dst[i] = DecryptAt(cipher[i], key[i mod L])。
// dst 长度决定处理的符号数（可小于 cipher，用于前缀评估）。
func DecryptInto(dst, cipher, key []int, n int) {
	ApplyInto(dst, cipher, key, n, DecryptAt)
}

// ApplyInto 以循环密钥逐位应用 op。
func ApplyInto(dst, xs, key []int, n int, op func(x, k, n int) int) {
	l := len(key)
	j := 0
	for i := range dst {
		dst[i] = op(xs[i], key[j], n)
		j++
		if j == l {
			j = 0
		}
	}
}

// Sample 构造有界解密样本：从 cipher[start] 起最多 n 个符号，样本内第 i 位使用 key[i mod len(key)]。
// 未知符号（密文或密钥）以 placeholder 渲染，不中断样本（DecodeGap 降级）。
func (a *Alphabet) Sample(cipher []rune, key []rune, start, n int, placeholder rune) string {
	if start < 0 || start >= len(cipher) || len(key) == 0 || n <= 0 {
		return ""
	}
	if rest := len(cipher) - start; n > rest {
		n = rest
	}
	N := len(a.symbols)
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		ci, ok1 := a.index[cipher[start+i]]
		ki, ok2 := a.index[key[i%len(key)]]
		if !ok1 || !ok2 {
			b.WriteRune(placeholder)
			continue
		}
		b.WriteRune(a.symbols[DecryptAt(ci, ki, N)])
	}
	return b.String()
}
