// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package sas

import "fmt"

// EmojiEntry pairs one of the 64 agreed SAS emoji with its description,
// in the fixed order the network standard assigns each 6-bit index.
type EmojiEntry struct {
	Emoji       string
	Description string
}

// emojiTable is the 64-entry table used by every compliant SAS
// implementation; index i is emitted for the 6-bit group with value i.
var emojiTable = [64]EmojiEntry{
	{"🐶", "Dog"}, {"🐱", "Cat"}, {"🦁", "Lion"}, {"🐎", "Horse"},
	{"🦄", "Unicorn"}, {"🐷", "Pig"}, {"🐘", "Elephant"}, {"🐰", "Rabbit"},
	{"🐼", "Panda"}, {"🐓", "Rooster"}, {"🐧", "Penguin"}, {"🐢", "Turtle"},
	{"🐟", "Fish"}, {"🐙", "Octopus"}, {"🦋", "Butterfly"}, {"🌷", "Flower"},
	{"🌳", "Tree"}, {"🌵", "Cactus"}, {"🍄", "Mushroom"}, {"🌏", "Globe"},
	{"🌙", "Moon"}, {"☁️", "Cloud"}, {"🔥", "Fire"}, {"🍌", "Banana"},
	{"🍎", "Apple"}, {"🍓", "Strawberry"}, {"🌽", "Corn"}, {"🍕", "Pizza"},
	{"🎂", "Cake"}, {"❤️", "Heart"}, {"😀", "Smiley"}, {"🤖", "Robot"},
	{"🎩", "Hat"}, {"👓", "Glasses"}, {"🔧", "Wrench"}, {"🎅", "Santa"},
	{"👍", "Thumbs Up"}, {"☂️", "Umbrella"}, {"⌛", "Hourglass"}, {"⏰", "Clock"},
	{"🎁", "Gift"}, {"💡", "Light Bulb"}, {"📕", "Book"}, {"✏️", "Pencil"},
	{"📎", "Paperclip"}, {"✂️", "Scissors"}, {"🔒", "Lock"}, {"🔑", "Key"},
	{"🔨", "Hammer"}, {"☎️", "Telephone"}, {"🏁", "Flag"}, {"🚂", "Train"},
	{"🚲", "Bicycle"}, {"✈️", "Airplane"}, {"🚀", "Rocket"}, {"🏆", "Trophy"},
	{"⚽", "Ball"}, {"🎸", "Guitar"}, {"🎺", "Trumpet"}, {"🔔", "Bell"},
	{"⚓", "Anchor"}, {"🎧", "Headphones"}, {"📁", "Folder"}, {"📌", "Pin"},
}

// groups6 splits the top 42 of the 48 bits in b (6 bytes) into 7
// 6-bit groups. Discarding the low 6 bits keeps the math self-consistent:
// 7 groups of 6 bits is 42 bits, which 5 bytes (40 bits) cannot supply.
func groups6(b []byte) [7]int {
	var bits uint64
	for _, v := range b {
		bits = bits<<8 | uint64(v)
	}
	bits >>= 6 // drop the lowest 6 of the 48 bits
	var out [7]int
	for i := 6; i >= 0; i-- {
		out[i] = int(bits & 0x3f)
		bits >>= 6
	}
	return out
}

// EmojiString renders the 7 emoji for the SAS bytes derived by
// crypto.DeriveSASBytes (must be exactly 6 bytes).
func EmojiString(sasBytes []byte) ([7]EmojiEntry, error) {
	var out [7]EmojiEntry
	if len(sasBytes) != 6 {
		return out, fmt.Errorf("sas: emoji rendering requires 6 bytes, got %d", len(sasBytes))
	}
	idx := groups6(sasBytes)
	for i, v := range idx {
		out[i] = emojiTable[v]
	}
	return out, nil
}

// Decimal renders the decimal SAS per spec.md §4.3: the first 5 bytes
// as a big-endian 40-bit integer, split into three 13-bit groups, each
// offset by 1000 (matching the original's get_decimal rounding).
func Decimal(sasBytes []byte) ([3]uint16, error) {
	var out [3]uint16
	if len(sasBytes) < 5 {
		return out, fmt.Errorf("sas: decimal rendering requires at least 5 bytes, got %d", len(sasBytes))
	}
	var v uint64
	for _, b := range sasBytes[:5] {
		v = v<<8 | uint64(b)
	}
	v >>= 1 // 40 bits -> drop 1 bit -> 39 bits -> 3x13
	out[2] = uint16(v&0x1fff) + 1000
	v >>= 13
	out[1] = uint16(v&0x1fff) + 1000
	v >>= 13
	out[0] = uint16(v&0x1fff) + 1000
	return out, nil
}

// DecimalString renders Decimal's 3-tuple space-separated, the form
// shown to users to compare out-of-band.
func DecimalString(sasBytes []byte) (string, error) {
	d, err := Decimal(sasBytes)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d %d", d[0], d[1], d[2]), nil
}
