package runtime

import "os"

// fsops is the tiny filesystem seam PlanInit and ExecuteInit need.
type fsops interface {
	dirExists(path string) bool
	mkdirAll(path string) error
}

type osFS struct{}

func (osFS) dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (osFS) mkdirAll(path string) error {
	return os.MkdirAll(path, 0o755)
}
