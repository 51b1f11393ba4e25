package contract

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Digest 返回 Bundle 的 xxhash64 指纹。
// 输入为每条 Streamline 的点数与各坐标的 IEEE-754 位模式，
// 因此只有点数据逐位一致时指纹才相等；与文件格式/编码无关。
func Digest(b Bundle) uint64 {
	d := xxhash.New()
	var buf [8]byte
	for _, s := range b {
		binary.LittleEndian.PutUint64(buf[:], uint64(len(s)))
		_, _ = d.Write(buf[:])
		for _, p := range s {
			for _, v := range p {
				binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
				_, _ = d.Write(buf[:])
			}
		}
	}
	return d.Sum64()
}
