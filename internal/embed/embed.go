package embed

import (
	_ "embed"
)

// ExpertsYAML 内置专家人设表
// 编译时从 experts.yaml 嵌入到二进制文件中
//
//go:embed experts.yaml
var ExpertsYAML []byte
