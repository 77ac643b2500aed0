// Copyright 2025 veridiff project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package hash provides content hashing for captured target output.
// Output equality is decided by comparing these hashes rather than
// the (potentially large) outputs themselves.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

type Sig [sha256.Size]byte

func Hash(pieces ...[]byte) Sig {
	h := sha256.New()
	for _, data := range pieces {
		h.Write(data)
	}
	var sig Sig
	copy(sig[:], h.Sum(nil))
	return sig
}

// String returns the hex form of the hash of the given pieces.
func String(pieces ...[]byte) string {
	sig := Hash(pieces...)
	return sig.String()
}

func (sig *Sig) String() string {
	return hex.EncodeToString(sig[:])
}

func FromString(str string) (Sig, error) {
	bin, err := hex.DecodeString(str)
	if err != nil {
		return Sig{}, fmt.Errorf("failed to decode sig '%v': %w", str, err)
	}
	var sig Sig
	if len(bin) != len(sig) {
		return Sig{}, fmt.Errorf("failed to decode sig '%v': bad len", str)
	}
	copy(sig[:], bin)
	return sig, nil
}
