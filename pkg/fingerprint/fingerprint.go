// Copyright © 2018 One Concern

package fingerprint

import (
	"bytes"
	"io"
	"runtime"
	"sync"

	units "github.com/docker/go-units"
	blake2b "github.com/minio/blake2b-simd"
)

type chunkInput struct {
	part       int
	partBuffer []byte
	lastChunk  bool
	leafSize   uint32
}

type chunkOutput struct {
	digest []byte
	part   int
	err    error
}

// Option for the tree hash maker
type Option func(*Maker)

// LeafSize sets the size of the leaves of the hash tree
func LeafSize(sz int64) Option {
	return func(m *Maker) {
		if sz > 0 {
			m.leafSize = uint32(sz)
		}
	}
}

// NumberOfWorkers sets the number of goroutines hashing leaves in parallel
func NumberOfWorkers(no int) Option {
	return func(m *Maker) {
		if no > 0 {
			m.numberOfWorkers = no
		}
	}
}

// Size sets the size of the inner digests
func Size(sz uint8) Option {
	return func(m *Maker) {
		m.size = sz
	}
}

// New tree hash maker
func New(opts ...Option) *Maker {
	m := &Maker{
		leafSize:        uint32(5 * units.MB),
		numberOfWorkers: runtime.NumCPU(),
		size:            64,
	}

	for _, apply := range opts {
		apply(m)
	}
	return m
}

// Maker computes a blake2b tree hash, hashing leaves in parallel
type Maker struct {
	size            uint8
	leafSize        uint32
	numberOfWorkers int
}

// Process computes the tree hash of a buffer
func (m *Maker) Process(data []byte) ([]byte, error) {
	return m.ProcessReader(bytes.NewReader(data))
}

// ProcessReader computes the tree hash of a stream
func (m *Maker) ProcessReader(r io.Reader) (digest []byte, err error) {
	var wg sync.WaitGroup
	chunks := make(chan chunkInput)
	results := make(chan chunkOutput)

	for i := 0; i < m.numberOfWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.processChunk(chunks, results)
		}()
	}

	readErr := make(chan error, 1)
	go func() {
		defer close(chunks)
		readErr <- m.split(r, chunks)
	}()

	// Wait for workers to complete
	go func() {
		wg.Wait()
		close(results)
	}()

	// the number of chunks is unknown upfront for a stream
	digestHash := make(map[int][]byte)
	for res := range results {
		if res.err != nil && err == nil {
			err = res.err
		}
		digestHash[res.part] = res.digest
	}
	if e := <-readErr; e != nil {
		return nil, e
	}
	if err != nil {
		return nil, err
	}

	// Concatenate digests of chunks
	sz := int(m.size)
	b := make([]byte, len(digestHash)*sz)
	for index, val := range digestHash {
		offset := sz * index
		copy(b[offset:offset+sz], val)
	}

	rootBlake, err := blake2b.New(&blake2b.Config{
		Size: blake2b.Size,
		Tree: &blake2b.Tree{
			Fanout:        0,
			MaxDepth:      2,
			LeafSize:      m.leafSize,
			NodeOffset:    0,
			NodeDepth:     1,
			InnerHashSize: m.size,
			IsLastNode:    true,
		},
	})
	if err != nil {
		return nil, err
	}

	// Compute top level digest
	if _, err = rootBlake.Write(b); err != nil {
		return nil, err
	}
	return rootBlake.Sum(nil), nil
}

// split feeds leaves to the workers. An empty stream yields a single empty leaf.
func (m *Maker) split(r io.Reader, chunks chan<- chunkInput) error {
	current, err := m.readLeaf(r)
	if err != nil {
		return err
	}
	for part := 0; ; part++ {
		if uint32(len(current)) < m.leafSize {
			chunks <- chunkInput{part: part, partBuffer: current, lastChunk: true, leafSize: m.leafSize}
			return nil
		}
		next, err := m.readLeaf(r)
		if err != nil {
			return err
		}
		lastChunk := len(next) == 0
		chunks <- chunkInput{part: part, partBuffer: current, lastChunk: lastChunk, leafSize: m.leafSize}
		if lastChunk {
			return nil
		}
		current = next
	}
}

func (m *Maker) readLeaf(r io.Reader) ([]byte, error) {
	buf := make([]byte, m.leafSize)
	n, err := io.ReadFull(r, buf)
	switch err {
	case nil:
		return buf, nil
	case io.EOF, io.ErrUnexpectedEOF:
		return buf[:n], nil
	default:
		return nil, err
	}
}

// Worker routine for computing hash for a chunk
func (m *Maker) processChunk(rx <-chan chunkInput, tx chan<- chunkOutput) {
	for c := range rx {
		blake, err := blake2b.New(&blake2b.Config{
			Size: blake2b.Size,
			Tree: &blake2b.Tree{
				Fanout:        0,
				MaxDepth:      2,
				LeafSize:      c.leafSize,
				NodeOffset:    uint64(c.part),
				NodeDepth:     0,
				InnerHashSize: m.size,
				IsLastNode:    c.lastChunk,
			},
		})
		if err != nil {
			tx <- chunkOutput{part: c.part, err: err}
			continue
		}

		if _, err = blake.Write(c.partBuffer); err != nil {
			tx <- chunkOutput{part: c.part, err: err}
			continue
		}
		tx <- chunkOutput{digest: blake.Sum(nil), part: c.part}
	}
}
