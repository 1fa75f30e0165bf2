//go:build !cgo

package main

import (
	"errors"

	"github.com/redwing-381/mirmer.ai/internal/store"
)

func openKuzuStore(string) (store.Store, error) {
	return nil, errors.New("kuzu storage requires a cgo build")
}
