// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package xmodem

import (
	"bytes"
	"testing"
	"time"

	"github.com/intuitivelabs/embedkit/support"
)

// fakeLink scripts the sender side of a transfer: Receive reads the
// prepared input byte by byte and every byte the receiver writes is
// recorded for inspection.
type fakeLink struct {
	input  []byte
	output []byte
}

func (l *fakeLink) read(buf []byte, timeout time.Duration) (int, error) {
	if len(l.input) == 0 {
		return 0, nil
	}
	n := copy(buf, l.input[:1])
	l.input = l.input[1:]
	return n, nil
}

func (l *fakeLink) write(data []byte, timeout time.Duration) (int, error) {
	l.output = append(l.output, data...)
	return len(data), nil
}

func crcPacket(seq uint8, data []byte) []byte {
	p := []byte{soh, seq, ^seq}
	p = append(p, data...)
	crc := support.CRC16XMODEM(data)
	return append(p, byte(crc>>8), byte(crc))
}

func checksumPacket(seq uint8, data []byte) []byte {
	p := []byte{soh, seq, ^seq}
	p = append(p, data...)
	var sum uint8
	for _, b := range data {
		sum += b
	}
	return append(p, sum)
}

func TestReceiveCRCBlocks(t *testing.T) {
	block1 := bytes.Repeat([]byte{'a'}, dataLen128)
	block2 := bytes.Repeat([]byte{'b'}, dataLen128)

	link := &fakeLink{}
	link.input = append(link.input, crcPacket(1, block1)...)
	link.input = append(link.input, crcPacket(2, block2)...)
	link.input = append(link.input, eot)

	var blocks [][]byte
	eotSeen := false
	r := New(link.read, link.write, nil, make([]byte, dataLen1K))
	err := r.Receive(Block128CRC, func(seq int, data []byte) error {
		if data == nil {
			eotSeen = true
			return nil
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		blocks = append(blocks, cp)
		return nil
	}, 5*time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}

	if len(blocks) != 2 {
		t.Fatalf("received %d blocks, want 2", len(blocks))
	}
	if !bytes.Equal(blocks[0], block1) || !bytes.Equal(blocks[1], block2) {
		t.Fatalf("block payloads corrupted in transfer")
	}
	if !eotSeen {
		t.Fatalf("final EOT callback never made")
	}
	if len(link.output) == 0 || link.output[0] != idl {
		t.Fatalf("CRC-mode sync must start with 'C', got % x", link.output)
	}
	if n := bytes.Count(link.output, []byte{ack}); n != 3 {
		t.Fatalf("sent %d ACKs, want 3 (two blocks + EOT)", n)
	}
}

func TestReceiveChecksumBlock(t *testing.T) {
	block := bytes.Repeat([]byte{0x42}, dataLen128)

	link := &fakeLink{}
	link.input = append(link.input, checksumPacket(1, block)...)
	link.input = append(link.input, eot)

	var got []byte
	r := New(link.read, link.write, nil, make([]byte, dataLen128))
	err := r.Receive(Block128, func(seq int, data []byte) error {
		if data != nil {
			got = append([]byte(nil), data...)
		}
		return nil
	}, 5*time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if !bytes.Equal(got, block) {
		t.Fatalf("payload corrupted in checksum mode")
	}
	if len(link.output) == 0 || link.output[0] != nak {
		t.Fatalf("checksum-mode sync must start with NAK, got % x", link.output)
	}
}

func TestReceiveCorruptBlockNaksThenAcceptsResend(t *testing.T) {
	block := bytes.Repeat([]byte{'x'}, dataLen128)

	bad := crcPacket(1, block)
	bad[10] ^= 0xff // corrupt one data byte, CRC check must fail

	link := &fakeLink{}
	link.input = append(link.input, bad...)
	link.input = append(link.input, crcPacket(1, block)...)
	link.input = append(link.input, eot)

	delivered := 0
	r := New(link.read, link.write, nil, make([]byte, dataLen128))
	err := r.Receive(Block128CRC, func(seq int, data []byte) error {
		if data != nil {
			delivered++
		}
		return nil
	}, 5*time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if delivered != 1 {
		t.Fatalf("delivered %d blocks, want 1 (corrupt copy dropped)", delivered)
	}
	if !bytes.Contains(link.output, []byte{nak, ack}) {
		t.Fatalf("expected a NAK for the corrupt block before the ACK, got % x", link.output)
	}
}

func TestReceiveCanceledByRemote(t *testing.T) {
	link := &fakeLink{input: []byte{can, can}}
	r := New(link.read, link.write, nil, make([]byte, dataLen128))
	err := r.Receive(Block128CRC, nil, 5*time.Second)
	if err != ErrCanceledByRemote {
		t.Fatalf("err = %v, want ErrCanceledByRemote", err)
	}
}

func TestReceiveBufferTooSmall(t *testing.T) {
	link := &fakeLink{}
	r := New(link.read, link.write, nil, make([]byte, dataLen128))
	if err := r.Receive(Block1K, nil, time.Second); err != ErrNoEnoughBuffer {
		t.Fatalf("err = %v, want ErrNoEnoughBuffer", err)
	}
}
