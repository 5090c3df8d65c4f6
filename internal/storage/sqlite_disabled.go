//go:build !sqlite
// +build !sqlite

package storage

import (
	"errors"

	logx "fmesched/pkg/logx"
)

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	return nil, errors.New("sqlite storage driver not built in (build with -tags sqlite)")
}
