package whisper

import (
	"path/filepath"
	"strings"

	"podpirate/whisper-service/config"
)

// ggmlModelPath resolves cfg.Name to a whisper.cpp model file. A name that
// already looks like a path is used as is; "base" becomes <ModelDir>/ggml-base.bin.
func ggmlModelPath(cfg config.ModelConfig) string {
	if strings.HasSuffix(cfg.Name, ".bin") || strings.ContainsRune(cfg.Name, filepath.Separator) {
		return cfg.Name
	}
	return filepath.Join(cfg.ModelDir, "ggml-"+cfg.Name+".bin")
}
