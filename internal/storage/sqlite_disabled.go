//go:build !sqlite
// +build !sqlite

package storage

import (
	"errors"

	"releasebot/pkg/logx"
)

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	return nil, errors.New("sqlite driver not compiled in (build with -tags sqlite)")
}
