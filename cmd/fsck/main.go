// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Command fsck opens a filehash container read-write, replays any in-flight
// journal entry, and reports its header fields and fragmentation count --
// a diagnostic entry point for the crash-recovery protocol described in
// SPEC_FULL.md, the way the teacher's cmd/gen-testdata is the entry point
// for its own build pipeline.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/kvstore/filehash/internal/engine"
	"github.com/kvstore/filehash/internal/nodeio"
	"github.com/kvstore/filehash/internal/pagecache"
)

func inferMode(h nodeio.HeaderNode) (nodeio.Mode, error) {
	if h.ItemSectionPointer == nodeio.LookupSectionOffset+h.Capacity*nodeio.ModeDict.LookupNodeSize() {
		return nodeio.ModeDict, nil
	}
	if h.ItemSectionPointer == nodeio.LookupSectionOffset+h.Capacity*nodeio.ModeSet.LookupNodeSize() {
		return nodeio.ModeSet, nil
	}
	return 0, fmt.Errorf("fsck: itemSectionPointer %d doesn't match either mode for capacity %d", h.ItemSectionPointer, h.Capacity)
}

func main() {
	flag.Parse()
	path := flag.Arg(0)
	if path == "" {
		log.Fatal("usage: fsck <container-file>")
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		log.Fatalf("open %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()

	pc, err := pagecache.Open(f, 0, false)
	if err != nil {
		log.Fatalf("pagecache.Open: %v", err)
	}

	h, err := nodeio.ReadHeader(pc)
	if err != nil {
		log.Fatalf("ReadHeader: %v", err)
	}
	mode, err := inferMode(h)
	if err != nil {
		log.Fatalf("%v", err)
	}

	e, err := engine.Open(pc, mode, false, nil)
	if err != nil {
		log.Fatalf("engine.Open (replay): %v", err)
	}
	defer func() { _ = e.Close() }()

	modeName := "dict"
	if mode == nodeio.ModeSet {
		modeName = "set"
	}
	fmt.Printf("path:                %s\n", path)
	fmt.Printf("mode:                %s\n", modeName)
	fmt.Printf("signature:           %x\n", e.Signature())
	fmt.Printf("count:               %d\n", e.Count())
	fmt.Printf("capacity:            %d\n", e.Capacity())
	fmt.Printf("load factor:         %.4f\n", float64(e.Count())/float64(e.Capacity()))
	fmt.Printf("fragmentation count: %d\n", e.FragmentationCount())
}
