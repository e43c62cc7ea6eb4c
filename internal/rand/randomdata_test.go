// Copyright © 2018 One Concern

package rand

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLetterString(t *testing.T) {
	s := LetterString(200)
	assert.Len(t, s, 200)
	assert.Regexp(t, regexp.MustCompile(`^[a-z0-9]+$`), s)
}

func TestName(t *testing.T) {
	assert.Regexp(t, regexp.MustCompile(`^ham-[a-z0-9]{6}$`), Name("ham"))
	assert.NotEqual(t, Name("ham"), Name("ham"))
}

func TestHex(t *testing.T) {
	for _, n := range []int{1, 7, 40} {
		h := Hex(n)
		assert.Len(t, h, n)
		assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]+$`), h)
	}
}

func benchmarkBytes(b *testing.B, size int) {
	for n := 0; n < b.N; n++ {
		_ = Bytes(size)
	}
}

func BenchmarkBytes1000(b *testing.B)    { benchmarkBytes(b, 1000) }
func BenchmarkBytes1000000(b *testing.B) { benchmarkBytes(b, 1000000) }
