// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package support collects small framing and checksum helpers shared by
// the rest of embedkit: Consistent Overhead Byte Stuffing, CRC-16, and
// the two string hashes used by the kvstore package.
package support

func minInt(a, b int) int {
	if a > b {
		return b
	}
	return a
}

// EncodeCOBS writes the COBS encoding of data into buf, returning the
// number of bytes written, or the number of bytes it managed to write
// before buf ran out. The returned length excludes the trailing zero
// delimiter (which is still written when buf has room for it).
func EncodeCOBS(buf []byte, data []byte) int {
	bufsize := len(buf)
	maxlen := minInt(bufsize, len(data))
	groupHeadIndex := 0
	groupLen := byte(1)
	o := 1

	for i := 0; i < maxlen && o < bufsize; i++ {
		if data[i] != 0 {
			buf[o] = data[i]
			o++
			groupLen++
		}

		if data[i] == 0 || groupLen == 0xFF {
			buf[groupHeadIndex] = groupLen
			groupHeadIndex = o
			o++
			if o >= bufsize || (groupLen == 0xFF && i+1 >= maxlen) {
				buf[minInt(o-1, bufsize-1)] = 0
				return o - 1
			}
			groupLen = 1
		}
	}

	buf[groupHeadIndex] = groupLen
	buf[minInt(o, bufsize-1)] = 0
	return o
}

// DecodeCOBS writes the decoded form of data into buf, returning the
// number of bytes written. Decoding stops at a zero delimiter or the
// end of data, whichever comes first.
func DecodeCOBS(buf []byte, data []byte) int {
	o := 0
	groupLen := byte(0)
	code := byte(0xff)

	for i := 0; i < len(data) && o < len(buf); i++ {
		if groupLen > 0 {
			buf[o] = data[i]
			o++
		} else {
			if code != 0xff {
				buf[o] = 0
				o++
			}
			groupLen = data[i]
			code = data[i]
			if code == 0 {
				break
			}
		}
		groupLen--
	}

	return o
}

// DecodeCOBSOverwrite decodes inout in place. Safe because DecodeCOBS
// never writes ahead of the read position: o <= i at every step.
func DecodeCOBSOverwrite(inout []byte) int {
	return DecodeCOBS(inout, inout)
}
