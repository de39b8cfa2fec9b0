package layersync

import (
	"github.com/domonda/go-errs"
)

const (
	ErrNotFound errs.Sentinel = "job not found"
	ErrClosed   errs.Sentinel = "job store is closed"
)
