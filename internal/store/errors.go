package store

import "errors"

// ErrDuplicate 主键冲突。
var ErrDuplicate = errors.New("store: duplicate key")
