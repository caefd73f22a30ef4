//go:build !whisper_cpp

package whisper

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"podpirate/whisper-service/config"
)

// NewWhisperCpp reports that this binary was built without whisper.cpp.
func NewWhisperCpp(cfg config.ModelConfig, log *logrus.Logger) (Model, error) {
	return nil, fmt.Errorf("%w: %s needs a build with -tags whisper_cpp (model file %s)",
		ErrBackendUnavailable, config.BackendWhisperCpp, ggmlModelPath(cfg))
}
