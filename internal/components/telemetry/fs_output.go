package telemetry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// FilesystemOutput is a MessageOutput that writes each HTTP exchange to its own file.
type FilesystemOutput struct {
	directory string
}

// NewFilesystemOutput creates a fresh run directory inside `dir`, ex.
// `dir/20210211-130000-123`. Nothing already in `dir` is touched.
func NewFilesystemOutput(dir string) (FilesystemOutput, error) {
	err := os.MkdirAll(dir, 0777)
	if err != nil {
		return FilesystemOutput{}, fmt.Errorf("create http dump dir: %w", err)
	}
	run, err := os.MkdirTemp(dir, time.Now().Format("20060102-150405")+"-*")
	if err != nil {
		return FilesystemOutput{}, fmt.Errorf("create http dump dir: %w", err)
	}
	return FilesystemOutput{directory: run}, nil
}

// Directory is where the exchanges of this run are written.
func (o FilesystemOutput) Directory() string {
	return o.directory
}

func (o FilesystemOutput) Write(id string, contents string) {
	err := os.WriteFile(filepath.Join(o.directory, id+".txt"), []byte(contents), 0600)
	if err != nil {
		slog.Warn("failed to write message info file", "id", id, "err", err)
	}
}
