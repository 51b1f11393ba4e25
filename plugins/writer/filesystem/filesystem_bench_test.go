package filesystem

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"tractkit/pkg/contract"
	"tractkit/plugins/format/vtk"
)

// encodedBundle 生成 n 条 32 点流线并编码为 binary VTK。
func encodedBundle(b *testing.B, n int) []byte {
	b.Helper()
	bundle := make(contract.Bundle, n)
	for i := range bundle {
		s := make(contract.Streamline, 32)
		for j := range s {
			s[j] = contract.Point{float64(i), float64(j), float64(i + j)}
		}
		bundle[i] = s
	}
	c, err := vtk.New(nil)
	if err != nil {
		b.Fatalf("创建编解码器失败: %v", err)
	}
	var buf bytes.Buffer
	if err := c.Encode(context.Background(), &buf, &contract.Tractogram{Bundle: bundle}); err != nil {
		b.Fatalf("编码失败: %v", err)
	}
	return buf.Bytes()
}

// BenchmarkWrite 测量编码后 tractogram 的原子写入与独占写入。
func BenchmarkWrite(b *testing.B) {
	for _, lines := range []int{100, 20000} {
		data := encodedBundle(b, lines)
		for _, exclusive := range []bool{false, true} {
			b.Run(fmt.Sprintf("lines=%d/exclusive=%v", lines, exclusive), func(b *testing.B) {
				w, err := New(&Options{OutputDir: b.TempDir(), Exclusive: exclusive})
				if err != nil {
					b.Fatalf("创建 Writer 失败: %v", err)
				}
				ctx := context.Background()
				b.SetBytes(int64(len(data)))
				b.ReportAllocs()
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					// 独占模式下每次写新文件
					id := contract.ArtifactID(fmt.Sprintf("bundle_%d.vtk", i%64))
					if exclusive {
						id = contract.ArtifactID(fmt.Sprintf("bundle_%d.vtk", i))
					}
					if err := w.Write(ctx, id, bytes.NewReader(data)); err != nil {
						b.Fatalf("写入失败: %v", err)
					}
				}
			})
		}
	}
}
