package ngshow

import (
	"fmt"
	"path/filepath"

	"github.com/blang/semver"
)

// Version is the current release of ngshow.
var Version = semver.MustParse("0.4.1")

// NumCPU is the number of cores available to this process.
var NumCPU int

// ConvertToAbsolute returns path unchanged if it is already absolute and otherwise
// joins it to baseDir.
func ConvertToAbsolute(path, baseDir string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path cannot be made absolute")
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(absBase, path), nil
}
