package logger

import (
	"go.uber.org/zap"
)

// New builds a production logger at the given level. encoding is "console"
// or "json"; empty means console.
func New(verbosity, encoding string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(verbosity)
	if err != nil {
		return nil, err
	}
	config.Level = level
	if encoding == "" {
		encoding = "console"
	}
	config.Encoding = encoding
	config.Sampling = nil
	return config.Build()
}
