package engine

import (
	"crypto/sha256"
	"encoding/binary"

	"golang.org/x/crypto/chacha20"
)

const (
	// FaceCount is the number of faces on a die.
	FaceCount = 6

	// rejectAbove is the largest multiple of FaceCount that fits in a byte.
	// Bytes at or above it are discarded so every face is equally likely.
	rejectAbove = 256 - 256%FaceCount

	blockSize = 64
)

// Seeds holds the committed secrets of both players, ordered for a draw:
// the acting player's secret first, then the opponent's.
type Seeds struct {
	Acting []byte
	Other  []byte
}

// RollKey derives the stream key for a first-round roll.
func RollKey(seeds Seeds, gameID uint64) [32]byte {
	return digest(seeds, gameID, nil)
}

// RerollKey derives the stream key for a second-round reroll of count dice.
func RerollKey(seeds Seeds, gameID uint64, count uint8) [32]byte {
	return digest(seeds, gameID, []byte{count})
}

func digest(seeds Seeds, gameID uint64, suffix []byte) [32]byte {
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], gameID)

	h := sha256.New()
	h.Write(seeds.Acting)
	h.Write(seeds.Other)
	h.Write(id[:])
	h.Write(suffix)

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// FaceGenerator streams die faces from a ChaCha20 keystream keyed by a
// 256-bit digest. The nonce is fixed at zero: every key is used for exactly
// one draw sequence.
type FaceGenerator struct {
	cipher   *chacha20.Cipher
	buffer   [blockSize]byte
	pos      int
	consumed int
}

// NewFaceGenerator creates a generator for the given key.
func NewFaceGenerator(key [32]byte) *FaceGenerator {
	var nonce [chacha20.NonceSize]byte
	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		// key and nonce lengths are constants
		panic("engine: chacha20 init: " + err.Error())
	}
	fg := &FaceGenerator{cipher: c}
	fg.refill()
	return fg
}

// Next returns the next raw keystream byte.
func (fg *FaceGenerator) Next() byte {
	if fg.pos >= blockSize {
		fg.refill()
	}
	b := fg.buffer[fg.pos]
	fg.pos++
	fg.consumed++
	return b
}

// NextFace draws a face uniformly from [1, FaceCount].
func (fg *FaceGenerator) NextFace() uint8 {
	for {
		b := fg.Next()
		if int(b) < rejectAbove {
			return uint8(int(b)%FaceCount) + 1
		}
	}
}

// Consumed reports how many keystream bytes have been read.
func (fg *FaceGenerator) Consumed() int {
	return fg.consumed
}

func (fg *FaceGenerator) refill() {
	var zero [blockSize]byte
	fg.cipher.XORKeyStream(fg.buffer[:], zero[:])
	fg.pos = 0
}

// Faces draws count faces from the stream keyed by key.
func Faces(key [32]byte, count int) []uint8 {
	if count <= 0 {
		return nil
	}
	fg := NewFaceGenerator(key)
	faces := make([]uint8, count)
	for i := range faces {
		faces[i] = fg.NextFace()
	}
	return faces
}
