package server

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger builds the JSON production logger, or a console logger in development.
func NewLogger(environment string) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if environment == EnvironmentDevelopment {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("zap init: %w", err)
	}
	return logger, nil
}
