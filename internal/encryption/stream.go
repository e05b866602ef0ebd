// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

// Package encryption implements the chunked, authenticated artifact cipher
// and the key providers it resolves keys through.
//
// Stream format:
//
//	header:  magic[8] | salt[32] | nonce[12]
//	chunk:   uint32 big-endian (length | final<<31) | AES-256-GCM ciphertext
//
// The artifact key is derived from the master key with HKDF-SHA256 over the
// per-artifact salt. Chunk i is sealed with nonce = base nonce XOR i and
// additional data = header | i | final, so chunks cannot be reordered,
// dropped or truncated without failing authentication. Exactly one chunk
// (the last, possibly empty) carries the final flag.
package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// DefaultChunkSize is the plaintext size of every chunk except the last.
	DefaultChunkSize = 1 << 20

	// MaxChunkSize bounds the length prefix and the reader's buffer.
	MaxChunkSize = 16 << 20

	keySize   = 32
	saltSize  = 32
	nonceSize = 12
	finalFlag = uint32(1) << 31
	hkdfInfo  = "warehousevault-artifact-v1"
)

var magic = [8]byte{'W', 'V', 'B', 'K', 'E', 'N', 'C', '1'}

const headerSize = len(magic) + saltSize + nonceSize

// ErrIntegrity is returned when ciphertext fails authentication or its
// framing is corrupt or truncated.
var ErrIntegrity = errors.New("encrypted artifact failed authentication")

func newAEAD(master, salt []byte) (cipher.AEAD, error) {
	if len(master) != keySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", keySize, len(master))
	}
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, salt, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive artifact key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func chunkNonce(base []byte, counter uint64) []byte {
	nonce := make([]byte, nonceSize)
	copy(nonce, base)
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], counter)
	for i := 0; i < 8; i++ {
		nonce[nonceSize-8+i] ^= ctr[i]
	}
	return nonce
}

func chunkAAD(header []byte, counter uint64, final bool) []byte {
	aad := make([]byte, 0, len(header)+9)
	aad = append(aad, header...)
	aad = binary.BigEndian.AppendUint64(aad, counter)
	if final {
		return append(aad, 1)
	}
	return append(aad, 0)
}

// Writer encrypts everything written to it. Close must be called to emit
// the final chunk; it does not close the underlying writer.
type Writer struct {
	w         io.Writer
	aead      cipher.AEAD
	header    []byte
	nonce     []byte
	buf       []byte
	chunkSize int
	counter   uint64
	closed    bool
	err       error
}

// NewWriter writes the stream header to w and returns a Writer.
func NewWriter(w io.Writer, master []byte, chunkSize int) (*Writer, error) {
	if chunkSize <= 0 || chunkSize > MaxChunkSize {
		return nil, fmt.Errorf("chunk size must be in (0, %d], got %d", MaxChunkSize, chunkSize)
	}
	header := make([]byte, headerSize)
	copy(header, magic[:])
	if _, err := io.ReadFull(rand.Reader, header[len(magic):]); err != nil {
		return nil, fmt.Errorf("generate salt and nonce: %w", err)
	}
	salt := header[len(magic) : len(magic)+saltSize]
	aead, err := newAEAD(master, salt)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(header); err != nil {
		return nil, err
	}
	return &Writer{
		w:         w,
		aead:      aead,
		header:    header,
		nonce:     header[len(magic)+saltSize:],
		buf:       make([]byte, 0, chunkSize),
		chunkSize: chunkSize,
	}, nil
}

// Write implements io.Writer.
func (e *Writer) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	if e.closed {
		return 0, errors.New("write to closed encryption writer")
	}
	written := 0
	for len(p) > 0 {
		// A full buffer is only sealed once more data arrives, so the last
		// chunk is always the one sealed by Close.
		if len(e.buf) == e.chunkSize {
			if err := e.seal(false); err != nil {
				return written, err
			}
		}
		n := copy(e.buf[len(e.buf):e.chunkSize], p)
		e.buf = e.buf[:len(e.buf)+n]
		p = p[n:]
		written += n
	}
	return written, nil
}

// Close seals the final chunk.
func (e *Writer) Close() error {
	if e.closed {
		return e.err
	}
	e.closed = true
	if e.err != nil {
		return e.err
	}
	return e.seal(true)
}

func (e *Writer) seal(final bool) error {
	ct := e.aead.Seal(nil, chunkNonce(e.nonce, e.counter), e.buf, chunkAAD(e.header, e.counter, final))
	word := uint32(len(ct))
	if final {
		word |= finalFlag
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], word)
	if _, err := e.w.Write(prefix[:]); err != nil {
		e.err = err
		return err
	}
	if _, err := e.w.Write(ct); err != nil {
		e.err = err
		return err
	}
	e.counter++
	e.buf = e.buf[:0]
	return nil
}

// Reader decrypts a stream produced by Writer, one chunk at a time.
type Reader struct {
	r       io.Reader
	aead    cipher.AEAD
	header  []byte
	nonce   []byte
	plain   []byte
	counter uint64
	done    bool
	err     error
}

// NewReader reads and checks the stream header.
func NewReader(r io.Reader, master []byte) (*Reader, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", ErrIntegrity, err)
	}
	if !bytes.Equal(header[:len(magic)], magic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrIntegrity)
	}
	aead, err := newAEAD(master, header[len(magic):len(magic)+saltSize])
	if err != nil {
		return nil, err
	}
	return &Reader{
		r:      r,
		aead:   aead,
		header: header,
		nonce:  header[len(magic)+saltSize:],
	}, nil
}

// Read implements io.Reader.
func (d *Reader) Read(p []byte) (int, error) {
	for len(d.plain) == 0 {
		if d.err != nil {
			return 0, d.err
		}
		if d.done {
			return 0, io.EOF
		}
		d.err = d.next()
	}
	n := copy(p, d.plain)
	d.plain = d.plain[n:]
	return n, nil
}

func (d *Reader) next() error {
	var prefix [4]byte
	if _, err := io.ReadFull(d.r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: stream truncated before final chunk", ErrIntegrity)
		}
		return err
	}
	word := binary.BigEndian.Uint32(prefix[:])
	final := word&finalFlag != 0
	size := int(word &^ finalFlag)
	if size < d.aead.Overhead() || size > MaxChunkSize+d.aead.Overhead() {
		return fmt.Errorf("%w: invalid chunk length %d", ErrIntegrity, size)
	}
	ct := make([]byte, size)
	if _, err := io.ReadFull(d.r, ct); err != nil {
		return fmt.Errorf("%w: chunk %d truncated", ErrIntegrity, d.counter)
	}
	plain, err := d.aead.Open(ct[:0], chunkNonce(d.nonce, d.counter), ct, chunkAAD(d.header, d.counter, final))
	if err != nil {
		return fmt.Errorf("%w: chunk %d", ErrIntegrity, d.counter)
	}
	d.counter++
	d.plain = plain
	if final {
		d.done = true
		var extra [1]byte
		if n, _ := io.ReadFull(d.r, extra[:]); n > 0 {
			return fmt.Errorf("%w: trailing data after final chunk", ErrIntegrity)
		}
	}
	return nil
}
