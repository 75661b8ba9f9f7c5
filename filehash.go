// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package filehash provides Map and Set: generic, file-backed associative
// containers built on an open-addressed hash table that survives process
// crashes via a single-slot write-ahead journal. See internal/engine for
// the mechanism and SPEC_FULL.md for the full container contract.
package filehash

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/kvstore/filehash/internal/engine"
	"github.com/kvstore/filehash/internal/nodeio"
	"github.com/kvstore/filehash/internal/pagecache"
)

// Sentinel errors returned by Map and Set operations.
var (
	ErrNotFound     = errors.New("filehash: key not found")
	ErrDuplicateKey = errors.New("filehash: key already exists")
	ErrReadOnly     = engine.ErrReadOnly
	ErrNotASet      = engine.ErrNotASet
)

// Options configures how a container file is opened. The zero value is a
// writable handle with the default page-cache budget and slog.Default; if
// the file cannot be opened for writing for lack of permission, a
// read-only handle is opened instead.
type Options struct {
	// ReadOnly opens the file without permitting mutation; the journal
	// must already be clean (operation None), matching spec §6's
	// read-only-refuses-to-replay rule.
	ReadOnly bool
	// CacheSize is the page cache's byte budget; 0 selects the default
	// (4 MiB, matching the teacher's bufio default).
	CacheSize int
	// Logger receives warnings emitted during journal replay. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Signature is the 16-byte file-kind tag stored in every container's
// header, in RFC-4122 GUID byte order.
type Signature [16]byte

func (s Signature) String() string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", s[0:4], s[4:6], s[6:8], s[8:10], s[10:16])
}

func openFile(path string, opts Options) (*pagecache.File, error) {
	flag := os.O_RDWR | os.O_CREATE
	if opts.ReadOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filehash: open %s: %w", path, err)
	}
	pc, err := pagecache.Open(f, opts.CacheSize, opts.ReadOnly)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("filehash: %w", err)
	}
	return pc, nil
}

func openEngine(path string, mode nodeio.Mode, opts Options) (*engine.Engine, string, error) {
	pc, err := openFile(path, opts)
	if err != nil && !opts.ReadOnly && errors.Is(err, os.ErrPermission) {
		opts.ReadOnly = true
		pc, err = openFile(path, opts)
	}
	if err != nil {
		return nil, "", err
	}
	e, err := engine.Open(pc, mode, opts.ReadOnly, opts.Logger)
	if err != nil {
		return nil, "", fmt.Errorf("filehash: %w", err)
	}
	return e, path, nil
}
