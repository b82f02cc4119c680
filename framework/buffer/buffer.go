/*
authgate - composable email authentication gateway
Copyright © 2026 authgate contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package buffer provides temporary storage for a message body so the
// body chunk stage (§3 DATA MODEL) can be read more than once - by
// DKIM/ARC verification and, independently, by the milter/SMTP engine
// when forwarding the message.
package buffer

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Buffer is immutable once built: any modification creates a new
// Buffer. The creator of a Buffer is responsible for calling Remove
// once it is no longer needed.
type Buffer interface {
	Open() (io.ReadCloser, error)
	Len() int
	Remove() error
}

// MemoryBuffer backs a Buffer with a byte slice, used for small
// messages or whenever on-disk buffering is disabled.
type MemoryBuffer struct {
	Slice []byte
}

func (mb MemoryBuffer) Open() (io.ReadCloser, error) { return bytesReader{bytes.NewReader(mb.Slice)}, nil }
func (mb MemoryBuffer) Len() int                     { return len(mb.Slice) }
func (mb MemoryBuffer) Remove() error                { return nil }

type bytesReader struct{ *bytes.Reader }

func (bytesReader) Close() error { return nil }

// BufferInMemory reads r fully into a MemoryBuffer.
func BufferInMemory(r io.Reader) (Buffer, error) {
	slice, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("buffer: %w", err)
	}
	return MemoryBuffer{Slice: slice}, nil
}

// FileBuffer backs a Buffer with a file on disk, used once a message
// body exceeds the in-memory threshold configured for a worker.
type FileBuffer struct {
	Path    string
	LenHint int
}

func (fb FileBuffer) Open() (io.ReadCloser, error) { return os.Open(fb.Path) }

func (fb FileBuffer) Len() int {
	if fb.LenHint != 0 {
		return fb.LenHint
	}
	info, err := os.Stat(fb.Path)
	if err != nil {
		return 0
	}
	return int(info.Size())
}

func (fb FileBuffer) Remove() error { return os.Remove(fb.Path) }

// BufferInFile copies r into a new file with a random name under dir.
func BufferInFile(r io.Reader, dir string) (Buffer, error) {
	nameBytes := make([]byte, 16)
	if _, err := rand.Read(nameBytes); err != nil {
		return nil, fmt.Errorf("buffer: generating file name: %w", err)
	}
	path := filepath.Join(dir, hex.EncodeToString(nameBytes))

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("buffer: creating file: %w", err)
	}
	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("buffer: writing file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("buffer: closing file: %w", err)
	}

	return FileBuffer{Path: path, LenHint: int(n)}, nil
}
