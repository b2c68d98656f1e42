package keyspace

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"k4ai/pkg/contract"
)

func TestSize(t *testing.T) {
	s, err := Size(26, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(17576), s)

	s, err = Size(2, 63)
	require.NoError(t, err)
	assert.Equal(t, uint64(1)<<63, s)

	_, err = Size(2, 64)
	assert.True(t, errors.Is(err, contract.ErrKeySpaceTooLarge), "2^64 溢出: %v", err)
	_, err = Size(26, 14)
	assert.True(t, errors.Is(err, contract.ErrKeySpaceTooLarge), "26^14 溢出: %v", err)
	_, err = Size(1, 3)
	assert.True(t, errors.Is(err, contract.ErrConfiguration))
	_, err = Size(26, 0)
	assert.True(t, errors.Is(err, contract.ErrConfiguration))
}

func TestKeyAtIndexOf_Bijection(t *testing.T) {
	n, l := 5, 4
	size, err := Size(n, l)
	require.NoError(t, err)
	seen := make(map[[4]int]bool, size)
	key := make([]int, l)
	for i := uint64(0); i < size; i++ {
		KeyAt(i, n, key)
		var k [4]int
		copy(k[:], key)
		require.False(t, seen[k], "重复密钥 %v @%d", k, i)
		seen[k] = true
		require.Equal(t, i, IndexOf(key, n), "IndexOf 与 KeyAt 不互逆")
	}
	assert.Len(t, seen, int(size))

	// 最高位在前
	KeyAt(1, n, key)
	assert.Equal(t, []int{0, 0, 0, 1}, key)
	KeyAt(size-1, n, key)
	assert.Equal(t, []int{4, 4, 4, 4}, key)
}

func TestPartition_Coverage(t *testing.T) {
	for _, tc := range []struct {
		n, l, w int
	}{
		{26, 1, 4}, {26, 2, 4}, {26, 3, 7}, {3, 2, 20}, {2, 5, 1}, {10, 3, 3},
	} {
		total, err := Size(tc.n, tc.l)
		require.NoError(t, err)
		parts, err := Partition(total, tc.w)
		require.NoError(t, err)
		require.Len(t, parts, tc.w)
		var covered, next uint64
		for i, p := range parts {
			// 连续、不重叠
			if p.Len() > 0 {
				require.Equal(t, next, p.Start, "分区 %d 起点", i)
				next = p.End
			}
			assert.LessOrEqual(t, p.End, total, "分区 %d 越界", i)
			covered += p.Len()
		}
		assert.Equal(t, total, covered, "n=%d l=%d w=%d", tc.n, tc.l, tc.w)
		assert.Equal(t, total, next, "末尾分区应止于总数")
	}

	_, err := Partition(10, 0)
	assert.True(t, errors.Is(err, contract.ErrConfiguration))
}

func TestPartition_Formula(t *testing.T) {
	parts, err := Partition(10, 3)
	require.NoError(t, err)
	assert.Equal(t, []contract.Range{{Start: 0, End: 4}, {Start: 4, End: 8}, {Start: 8, End: 10}}, parts)

	parts, err = Partition(2, 4)
	require.NoError(t, err)
	assert.Equal(t, []contract.Range{{Start: 0, End: 1}, {Start: 1, End: 2}, {Start: 2, End: 2}, {Start: 2, End: 2}}, parts)

	// 接近上界时不溢出
	parts, err = Partition(math.MaxUint64, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), parts[2].End)
}

func TestEnumerator(t *testing.T) {
	e := NewEnumerator(contract.Range{Start: 3, End: 6}, 3)
	assert.Equal(t, uint64(3), e.Total())
	key := make([]int, 2)
	var got [][]int
	for {
		st, ok := e.Next(key)
		if !ok {
			break
		}
		assert.Equal(t, contract.StrategyEnumerate, st)
		got = append(got, append([]int(nil), key...))
	}
	assert.Equal(t, [][]int{{1, 0}, {1, 1}, {1, 2}}, got)

	empty := NewEnumerator(contract.Range{Start: 2, End: 2}, 3)
	_, ok := empty.Next(key)
	assert.False(t, ok)
}

func TestStream_Budget(t *testing.T) {
	g, err := NewGenerator(GeneratorOptions{Size: 26, Length: 4, Weights: DefaultWeights()}, NewRand(1, 1))
	require.NoError(t, err)
	s := NewStream(g, 5)
	assert.Equal(t, uint64(5), s.Total())
	key := make([]int, 4)
	n := 0
	for {
		if _, ok := s.Next(key); !ok {
			break
		}
		n++
	}
	assert.Equal(t, 5, n, "预算耗尽后应停止")

	unbounded := NewStream(g, 0)
	for i := 0; i < 1000; i++ {
		_, ok := unbounded.Next(key)
		require.True(t, ok, "无预算时不应结束")
	}
}
