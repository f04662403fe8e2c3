package engine

import (
	"bytes"
	"testing"
)

func testSeeds() Seeds {
	return Seeds{
		Acting: []byte{0, 0, 0, 0, 0, 0, 0, 42},
		Other:  []byte{0, 0, 0, 0, 0, 0, 0, 7},
	}
}

func TestFacesInRange(t *testing.T) {
	key := RollKey(testSeeds(), 1)
	faces := Faces(key, 1000)

	if len(faces) != 1000 {
		t.Fatalf("Faces() returned %d faces, want 1000", len(faces))
	}
	for i, f := range faces {
		if f < 1 || f > FaceCount {
			t.Errorf("Face %d is out of range [1, %d]: %d", i, FaceCount, f)
		}
	}
}

func TestDeterministicFaces(t *testing.T) {
	seeds := testSeeds()

	faces1 := Faces(RollKey(seeds, 99), 5)
	faces2 := Faces(RollKey(seeds, 99), 5)

	if !bytes.Equal(faces1, faces2) {
		t.Errorf("Faces differ for identical inputs: %v != %v", faces1, faces2)
	}
}

func TestKeyAvalanche(t *testing.T) {
	seeds := testSeeds()
	base := RollKey(seeds, 5)

	tests := []struct {
		name string
		key  [32]byte
	}{
		{"different game id", RollKey(seeds, 6)},
		{"swapped secret order", RollKey(Seeds{Acting: seeds.Other, Other: seeds.Acting}, 5)},
		{"one byte of acting secret", RollKey(Seeds{Acting: []byte{0, 0, 0, 0, 0, 0, 0, 43}, Other: seeds.Other}, 5)},
		{"reroll suffix", RerollKey(seeds, 5, 5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.key == base {
				t.Fatal("Expected a different key")
			}
			// a SHA-256 digest flips about half its bits for any input change
			diff := 0
			for i := range base {
				diff += popcount(base[i] ^ tt.key[i])
			}
			if diff < 64 || diff > 192 {
				t.Errorf("Expected roughly 128 differing bits, got %d", diff)
			}
		})
	}
}

func TestRerollKeyDependsOnCount(t *testing.T) {
	seeds := testSeeds()
	if RerollKey(seeds, 1, 2) == RerollKey(seeds, 1, 3) {
		t.Error("Expected reroll keys to differ by count")
	}
}

func TestFacesZeroCount(t *testing.T) {
	if faces := Faces(RollKey(testSeeds(), 1), 0); faces != nil {
		t.Errorf("Expected nil for zero count, got %v", faces)
	}
}

func TestGeneratorCrossesBlockBoundary(t *testing.T) {
	fg := NewFaceGenerator(RollKey(testSeeds(), 3))
	for i := 0; i < blockSize*3; i++ {
		fg.Next()
	}
	if fg.Consumed() != blockSize*3 {
		t.Errorf("Expected %d bytes consumed, got %d", blockSize*3, fg.Consumed())
	}

	// The same key must yield the same stream regardless of read pattern.
	a := NewFaceGenerator(RollKey(testSeeds(), 3))
	b := NewFaceGenerator(RollKey(testSeeds(), 3))
	for i := 0; i < 200; i++ {
		if a.Next() != b.Next() {
			t.Fatalf("Streams diverged at byte %d", i)
		}
	}
}

func TestFaceDistribution(t *testing.T) {
	const draws = 60000
	counts := make([]int, FaceCount+1)
	for _, f := range Faces(RollKey(testSeeds(), 11), draws) {
		counts[f]++
	}

	expected := draws / FaceCount
	for face := 1; face <= FaceCount; face++ {
		// ±5% of the expected count is far outside random noise at this size
		if counts[face] < expected*95/100 || counts[face] > expected*105/100 {
			t.Errorf("Face %d drawn %d times, expected about %d", face, counts[face], expected)
		}
	}
}

func popcount(b byte) int {
	n := 0
	for b != 0 {
		n += int(b & 1)
		b >>= 1
	}
	return n
}
