// Copyright © 2018 One Concern

// Package rand produces random payloads and names for tests.
package rand

import (
	"bytes"
	"encoding/hex"
	"math/rand"
	"sync"
	"time"
)

var (
	onceSource  sync.Once
	rgen        *rand.Rand
	onceLetters sync.Once
	letters     []byte
	randMutex   sync.Mutex
)

func seed() {
	rgen = rand.New(rand.NewSource(time.Now().UnixNano())) // #nosec
}

func makeLetters() {
	// pads the alphabet over 256 locations, so a random byte indexes it directly:
	// "a" is slightly more frequent than other signs
	letters = bytes.Repeat([]byte("abcdefghijklmnopqrstuvwxyz0123456789a"), 7)
}

// Bytes returns a random slice of bytes
func Bytes(n int) []byte {
	onceSource.Do(seed)
	buf := make([]byte, n)
	randMutex.Lock()
	_, _ = rgen.Read(buf)
	randMutex.Unlock()
	return buf
}

// LetterBytes returns a random slice of bytes picked in the [0-9]|[a-z] range
func LetterBytes(n int) []byte {
	onceLetters.Do(makeLetters)
	buf := Bytes(n)
	for i, b := range buf {
		buf[i] = letters[b]
	}
	return buf
}

// LetterString returns a random string picked in the [0-9]|[a-z] range
func LetterString(n int) string {
	return string(LetterBytes(n))
}

// Name returns a random resource name, e.g. "ham-x1b2c3"
func Name(prefix string) string {
	return prefix + "-" + LetterString(6)
}

// Hex returns a random hex string of n characters, e.g. to mimic a commit hash
func Hex(n int) string {
	return hex.EncodeToString(Bytes(n/2 + 1))[:n]
}
