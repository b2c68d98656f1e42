package filesystem

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"k4ai/pkg/contract"
)

// BenchmarkWrite 不同导出尺寸下的写入性能（原子与覆盖两种方式）。
func BenchmarkWrite(b *testing.B) {
	for _, atomic := range []bool{true, false} {
		for _, sz := range []int{512, 64 * 1024} {
			b.Run(fmt.Sprintf("atomic=%t/size=%d", atomic, sz), func(b *testing.B) {
				data := bytes.Repeat([]byte("a"), sz)
				a := atomic
				w, err := New(&Options{OutputDir: b.TempDir(), Atomic: &a})
				if err != nil {
					b.Fatalf("创建 Writer 失败: %v", err)
				}
				id := contract.ArtifactFor("KRYPTOS", "json")
				ctx := context.Background()
				b.ReportAllocs()
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if err := w.Write(ctx, id, bytes.NewReader(data)); err != nil {
						b.Fatalf("写入失败: %v", err)
					}
				}
			})
		}
	}
}
