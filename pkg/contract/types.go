package contract

// FileID: 逻辑文件ID（通常为路径，需规范化，跨平台一致）。
type FileID string

// Point: 三维坐标点（x, y, z）。
type Point [3]float64

// Streamline: 一条纤维轨迹，按采样顺序排列的点序列。
// 读入后只读：仅允许拷贝/拼接/切片，不做原地修改。
type Streamline []Point

// Bundle: 有序的 Streamline 集合，通常对应一个 tractogram 文件的全部内容。
type Bundle []Streamline

// Precision: 点坐标在文件中的存储精度。
type Precision int

const (
	// Float32 为缺省精度（VTK "float" / XML "Float32"）。
	Float32 Precision = iota
	// Float64 对应 VTK "double" / XML "Float64"。
	Float64
)

func (p Precision) String() string {
	if p == Float64 {
		return "float64"
	}
	return "float32"
}

// Wider 返回两者中更宽的精度；拼接不同精度的输入时用于选择输出精度，避免截断。
func Wider(a, b Precision) Precision {
	if a == Float64 || b == Float64 {
		return Float64
	}
	return Float32
}

// Tractogram: Bundle 与格式元信息的容器。
// Header 为文件标题行（legacy VTK 第二行），仅透传，核心流程不解读。
type Tractogram struct {
	Header    string
	Precision Precision
	Bundle    Bundle
}

// NumPoints 返回全部 Streamline 的点数之和。
func (b Bundle) NumPoints() int {
	n := 0
	for _, s := range b {
		n += len(s)
	}
	return n
}
