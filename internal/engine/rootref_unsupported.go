//go:build !windows

package engine

import (
	"errors"

	"github.com/assetcooker/assetcooker/internal/model"
)

var errUnsupported = errors.New("engine: this operation requires Windows")

func rootRefNumber(absolutePath string) (model.RefNumber, error) {
	return model.RefNumber{}, errUnsupported
}
