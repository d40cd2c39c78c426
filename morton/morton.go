// Package morton orders tile addresses along a Z-order curve, so that tiles visited one
// after another lie close together.
package morton

import (
	"math"
)

type Z = uint

var (
	masks = [...]uint{
		0b0101010101010101010101010101010101010101010101010101010101010101,
		0b0011001100110011001100110011001100110011001100110011001100110011,
		0b0000111100001111000011110000111100001111000011110000111100001111,
		0b0000000011111111000000001111111100000000111111110000000011111111,
		0b0000000000000000111111111111111100000000000000001111111111111111,
		0b0000000000000000000000000000000011111111111111111111111111111111,
	}
	powersOfTwo = [...]uint{0, 1, 2, 4, 8, 16}
)

// BlockSize is the width and height of the blocks Walk visits along the curve.
const BlockSize = 64

// ToZ interleaves x and y, false when either does not fit in 32 bits.
func ToZ(x, y uint) (z Z, ok bool) {
	ok = x <= math.MaxUint32 && y <= math.MaxUint32
	for i := 4; i >= 0; i-- {
		x = (x | (x << powersOfTwo[i+1])) & masks[i]
		y = (y | (y << powersOfTwo[i+1])) & masks[i]
	}
	z = x | (y << 1)
	return z, ok
}

func FromZ(z Z) (x, y uint) {
	x = z
	y = z >> 1
	for i := 0; i <= 5; i++ {
		x = (x | (x >> powersOfTwo[i])) & masks[i]
		y = (y | (y >> powersOfTwo[i])) & masks[i]
	}
	return x, y
}

// Walk visits every x, y of the inclusive ranges once. The ranges are cut into BlockSize
// aligned blocks, visited row by row, and each block is visited along the curve.
// Walk stops when visit returns false, and then returns false itself.
func Walk(minX, minY, maxX, maxY int, visit func(x, y int) bool) bool {
	if minX < 0 || minY < 0 || minX > maxX || minY > maxY {
		return true
	}
	for blockY := minY / BlockSize * BlockSize; blockY <= maxY; blockY += BlockSize {
		for blockX := minX / BlockSize * BlockSize; blockX <= maxX; blockX += BlockSize {
			for z := Z(0); z < BlockSize*BlockSize; z++ {
				dx, dy := FromZ(z)
				x, y := blockX+int(dx), blockY+int(dy)
				if x < minX || x > maxX || y < minY || y > maxY {
					continue
				}
				if !visit(x, y) {
					return false
				}
			}
		}
	}
	return true
}
