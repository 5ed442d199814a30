package paths

import (
	"os"
	"path/filepath"
)

// GetDataDir 获取应用数据目录
func GetDataDir() string {
	userConfigDir, err := os.UserConfigDir()
	if err != nil || userConfigDir == "" {
		return filepath.Join(".", "data")
	}
	return filepath.Join(userConfigDir, "thinktank")
}

// DefaultBoltPath bbolt 数据文件的默认位置
func DefaultBoltPath() string {
	return filepath.Join(GetDataDir(), "thinktank.db")
}
