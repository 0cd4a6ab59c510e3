// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmos

// BinaryToBCD packs n, 0-99, into two decimal nibbles: ((n/10)<<4)|(n%10).
// Larger n are not rejected; the tens digit then spills past the high
// nibble and the result wraps as uint8 arithmetic does.
func BinaryToBCD(n uint8) uint8 {
	return ((n / 10) << 4) | (n % 10)
}

// BCDToBinary unpacks b as ((b>>4)*10)+(b&0x0f). Nibbles above 9 are taken
// at face value, so 0x1a decodes to 20.
func BCDToBinary(b uint8) uint8 {
	return ((b >> 4) * 10) + (b & 0x0f)
}
