// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Command gen-testdata populates a filehash Map file with randomly
// generated key/value pairs, for use as fixture data in crash-injection
// and load-factor tests.
package main

import (
	"crypto/hmac"
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"math/rand"

	"github.com/kvstore/filehash"
	"github.com/kvstore/filehash/serializer"
)

const (
	prefix    = "pref_"
	suffixLen = 16
	hmacKey   = "d259c7f656caf7f1"
)

func newRand() *rand.Rand {
	var seedBytes [8]byte
	_, _ = crand.Read(seedBytes[:])
	seed := int64(binary.LittleEndian.Uint64(seedBytes[:]))
	return rand.New(rand.NewSource(seed))
}

func main() {
	path := flag.String("o", "testdata.bit", "output container file path")
	n := flag.Int("n", 1_000_000, "number of key/value pairs to generate")
	flag.Parse()

	m, err := filehash.OpenMap[string, string](*path, serializer.String(), serializer.String(), filehash.Options{})
	if err != nil {
		log.Fatalf("OpenMap(%s): %v", *path, err)
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Fatalf("Close: %v", err)
		}
	}()

	rng := newRand()
	h := hmac.New(sha256.New, []byte(hmacKey))

	for i := 0; i < *n; i++ {
		var buf [suffixLen / 2]byte
		if _, err := rng.Read(buf[:]); err != nil {
			log.Fatalf("rng.Read: %v", err)
		}
		value := fmt.Sprintf("%s%x", prefix, buf)
		h.Reset()
		h.Write([]byte(value))
		key := hex.EncodeToString(h.Sum(nil))

		if _, err := m.Set(key, value); err != nil {
			log.Fatalf("Set(%s): %v", key, err)
		}
	}

	log.Printf("wrote %d entries to %s (capacity %d)", m.Count(), *path, m.Capacity())
}
