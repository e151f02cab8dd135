// Copyright 2024 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shm

import (
	"fmt"
	"io"

	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/unet"
)

// WriteTo writes all of iovec to sock as one stream of bytes. fds, if any,
// ride on the first sendmsg and are not repeated when the write is split.
func WriteTo(sock *unet.Socket, iovec [][]byte, fds []int) error {
	left := 0
	for _, b := range iovec {
		left += len(b)
	}

	w := sock.Writer(true)
	if len(fds) > 0 {
		w.PackFDs(fds...)
	}
	for left > 0 {
		n, err := w.WriteVec(iovec)
		if err != nil {
			return err
		}
		left -= n
		if left > 0 {
			iovec = skip(iovec, n)
			w.UnpackFDs()
		}
	}
	return nil
}

// skip drops the first n bytes from iovec. The first remaining slice may
// be a suffix of one of the originals.
func skip(iovec [][]byte, n int) [][]byte {
	for n > 0 && len(iovec) > 0 {
		if len(iovec[0]) > n {
			iovec[0] = iovec[0][n:]
			return iovec
		}
		n -= len(iovec[0])
		iovec = iovec[1:]
	}
	return iovec
}

// ReadFrom fills buf from sock. Up to wantFDs descriptors attached to the
// first chunk read are returned and owned by the caller; descriptors are
// never accepted after the first chunk.
//
// A peer that hangs up before anything is read yields io.EOF. One that
// hangs up part way yields an error wrapping io.ErrUnexpectedEOF that
// reports how far the read got.
func ReadFrom(sock *unet.Socket, buf []byte, wantFDs int) ([]int, error) {
	r := sock.Reader(true)
	r.EnableFDs(wantFDs)

	var fds []int
	got := 0
	for got < len(buf) {
		n, err := r.ReadVec([][]byte{buf[got:]})
		if n == 0 && err == nil {
			err = io.EOF
		}
		if err != nil && !(err == io.EOF && n > 0) {
			r.CloseFDs()
			closeFDs(fds)
			if err == io.EOF && got > 0 {
				return nil, fmt.Errorf("%w: read %d of %d bytes", io.ErrUnexpectedEOF, got, len(buf))
			}
			return nil, err
		}
		if got == 0 && wantFDs > 0 {
			if fds, err = r.ExtractFDs(); err != nil {
				return nil, err
			}
			r.EnableFDs(0)
		}
		got += n
	}
	return fds, nil
}

// closeFDs closes descriptors received but not handed to a caller.
func closeFDs(fds []int) {
	for _, fd := range fds {
		if fd >= 0 {
			unix.Close(fd)
		}
	}
}
