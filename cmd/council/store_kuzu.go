//go:build cgo

package main

import "github.com/redwing-381/mirmer.ai/internal/store"

func openKuzuStore(path string) (store.Store, error) {
	var (
		st  *store.KuzuStore
		err error
	)
	if path == "" {
		st, err = store.NewKuzuStore()
	} else {
		st, err = store.NewKuzuFileStore(path)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}
