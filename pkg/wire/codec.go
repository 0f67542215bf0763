/*
Copyright 2024 The gem5fs Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// order is the byte order used for every wire struct. The protocol doesn't
// cross real machine boundaries in this repository (see package
// hypercall's Loopback), but fixing an explicit order rather than relying
// on native struct layout is what lets TypeProbe's promise ("field widths
// are fixed") actually mean something.
var order = binary.LittleEndian

// EncodeEnvelope serializes an Envelope to its fixed-width wire form.
func EncodeEnvelope(e Envelope) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, order, uint32(e.Op))
	binary.Write(&buf, order, uint32(e.Direction))
	binary.Write(&buf, order, uint64(e.PathPtr))
	binary.Write(&buf, order, e.PathLen)
	binary.Write(&buf, order, uint64(e.PayloadPtr))
	binary.Write(&buf, order, e.PayloadSize)
	binary.Write(&buf, order, e.Handle)
	binary.Write(&buf, order, e.Errnum)
	return buf.Bytes()
}

// EnvelopeWireSize is the exact byte length EncodeEnvelope produces.
const EnvelopeWireSize = 4 + 4 + 8 + 4 + 8 + 4 + 8 + 4

// DecodeEnvelope parses bytes produced by EncodeEnvelope. It returns an
// error if b is shorter than EnvelopeWireSize.
func DecodeEnvelope(b []byte) (Envelope, error) {
	if len(b) < EnvelopeWireSize {
		return Envelope{}, fmt.Errorf("wire: short envelope: got %d bytes, want %d", len(b), EnvelopeWireSize)
	}
	r := bytes.NewReader(b)
	var e Envelope
	var op, dir uint32
	var pathPtr, payloadPtr uint64
	binary.Read(r, order, &op)
	binary.Read(r, order, &dir)
	binary.Read(r, order, &pathPtr)
	binary.Read(r, order, &e.PathLen)
	binary.Read(r, order, &payloadPtr)
	binary.Read(r, order, &e.PayloadSize)
	binary.Read(r, order, &e.Handle)
	binary.Read(r, order, &e.Errnum)
	e.Op = Op(op)
	e.Direction = Direction(dir)
	e.PathPtr = GuestAddr(pathPtr)
	e.PayloadPtr = GuestAddr(payloadPtr)
	return e, nil
}

// EncodeReadWriteArgs serializes a ReadWriteArgs struct.
func EncodeReadWriteArgs(a ReadWriteArgs) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, order, a.HostFD)
	binary.Write(&buf, order, a.Size)
	binary.Write(&buf, order, a.Offset)
	binary.Write(&buf, order, uint64(a.DataPtr))
	return buf.Bytes()
}

// DecodeReadWriteArgs parses bytes produced by EncodeReadWriteArgs.
func DecodeReadWriteArgs(b []byte) (ReadWriteArgs, error) {
	const want = 4 + 8 + 8 + 8
	if len(b) < want {
		return ReadWriteArgs{}, fmt.Errorf("wire: short ReadWriteArgs: got %d bytes, want %d", len(b), want)
	}
	r := bytes.NewReader(b)
	var a ReadWriteArgs
	var dataPtr uint64
	binary.Read(r, order, &a.HostFD)
	binary.Read(r, order, &a.Size)
	binary.Read(r, order, &a.Offset)
	binary.Read(r, order, &dataPtr)
	a.DataPtr = GuestAddr(dataPtr)
	return a, nil
}

// EncodeChownArgs serializes a ChownArgs struct.
func EncodeChownArgs(a ChownArgs) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, order, a.UID)
	binary.Write(&buf, order, a.GID)
	return buf.Bytes()
}

// DecodeChownArgs parses bytes produced by EncodeChownArgs.
func DecodeChownArgs(b []byte) (ChownArgs, error) {
	const want = 4 + 4
	if len(b) < want {
		return ChownArgs{}, fmt.Errorf("wire: short ChownArgs: got %d bytes, want %d", len(b), want)
	}
	r := bytes.NewReader(b)
	var a ChownArgs
	binary.Read(r, order, &a.UID)
	binary.Read(r, order, &a.GID)
	return a, nil
}

// EncodeSyncArgs serializes a SyncArgs struct.
func EncodeSyncArgs(a SyncArgs) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, order, a.DatasyncFlag)
	buf.Write([]byte{0, 0, 0}) // explicit padding, see SyncArgs
	binary.Write(&buf, order, a.FD)
	return buf.Bytes()
}

// DecodeSyncArgs parses bytes produced by EncodeSyncArgs.
func DecodeSyncArgs(b []byte) (SyncArgs, error) {
	const want = 1 + 3 + 4
	if len(b) < want {
		return SyncArgs{}, fmt.Errorf("wire: short SyncArgs: got %d bytes, want %d", len(b), want)
	}
	r := bytes.NewReader(b)
	var a SyncArgs
	var pad [3]byte
	binary.Read(r, order, &a.DatasyncFlag)
	binary.Read(r, order, &pad)
	binary.Read(r, order, &a.FD)
	return a, nil
}

// EncodeXAttrArgs serializes an XAttrArgs struct.
func EncodeXAttrArgs(a XAttrArgs) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, order, uint64(a.NamePtr))
	binary.Write(&buf, order, uint64(a.ValuePtr))
	binary.Write(&buf, order, a.NameSize)
	binary.Write(&buf, order, a.ValueSize)
	binary.Write(&buf, order, a.Flags)
	return buf.Bytes()
}

// DecodeXAttrArgs parses bytes produced by EncodeXAttrArgs.
func DecodeXAttrArgs(b []byte) (XAttrArgs, error) {
	const want = 8 + 8 + 4 + 4 + 4
	if len(b) < want {
		return XAttrArgs{}, fmt.Errorf("wire: short XAttrArgs: got %d bytes, want %d", len(b), want)
	}
	r := bytes.NewReader(b)
	var a XAttrArgs
	var namePtr, valuePtr uint64
	binary.Read(r, order, &namePtr)
	binary.Read(r, order, &valuePtr)
	binary.Read(r, order, &a.NameSize)
	binary.Read(r, order, &a.ValueSize)
	binary.Read(r, order, &a.Flags)
	a.NamePtr = GuestAddr(namePtr)
	a.ValuePtr = GuestAddr(valuePtr)
	return a, nil
}

// EncodeFtruncateArgs serializes an FtruncateArgs struct.
func EncodeFtruncateArgs(a FtruncateArgs) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, order, a.Length)
	binary.Write(&buf, order, a.FD)
	return buf.Bytes()
}

// DecodeFtruncateArgs parses bytes produced by EncodeFtruncateArgs.
func DecodeFtruncateArgs(b []byte) (FtruncateArgs, error) {
	const want = 8 + 4
	if len(b) < want {
		return FtruncateArgs{}, fmt.Errorf("wire: short FtruncateArgs: got %d bytes, want %d", len(b), want)
	}
	r := bytes.NewReader(b)
	var a FtruncateArgs
	binary.Read(r, order, &a.Length)
	binary.Read(r, order, &a.FD)
	return a, nil
}

// EncodeStatReply serializes a StatReply struct.
func EncodeStatReply(s StatReply) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, order, s.Mode)
	binary.Write(&buf, order, s.UID)
	binary.Write(&buf, order, s.GID)
	binary.Write(&buf, order, s.Size)
	binary.Write(&buf, order, s.Atime)
	binary.Write(&buf, order, s.Mtime)
	binary.Write(&buf, order, s.Ctime)
	binary.Write(&buf, order, s.Nlink)
	buf.Write([]byte{0, 0, 0, 0})
	return buf.Bytes()
}

// DecodeStatReply parses bytes produced by EncodeStatReply.
func DecodeStatReply(b []byte) (StatReply, error) {
	const want = 4 + 4 + 4 + 8 + 8 + 8 + 8 + 4 + 4
	if len(b) < want {
		return StatReply{}, fmt.Errorf("wire: short StatReply: got %d bytes, want %d", len(b), want)
	}
	r := bytes.NewReader(b)
	var s StatReply
	var pad [4]byte
	binary.Read(r, order, &s.Mode)
	binary.Read(r, order, &s.UID)
	binary.Read(r, order, &s.GID)
	binary.Read(r, order, &s.Size)
	binary.Read(r, order, &s.Atime)
	binary.Read(r, order, &s.Mtime)
	binary.Read(r, order, &s.Ctime)
	binary.Read(r, order, &s.Nlink)
	binary.Read(r, order, &pad)
	return s, nil
}

// EncodeStatFSReply serializes a StatFSReply struct.
func EncodeStatFSReply(s StatFSReply) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, order, s.BlockSize)
	binary.Write(&buf, order, s.Blocks)
	binary.Write(&buf, order, s.BlocksFree)
	binary.Write(&buf, order, s.BlocksAvail)
	binary.Write(&buf, order, s.Files)
	binary.Write(&buf, order, s.FilesFree)
	binary.Write(&buf, order, s.NameMax)
	return buf.Bytes()
}

// DecodeStatFSReply parses bytes produced by EncodeStatFSReply.
func DecodeStatFSReply(b []byte) (StatFSReply, error) {
	const want = 8 * 7
	if len(b) < want {
		return StatFSReply{}, fmt.Errorf("wire: short StatFSReply: got %d bytes, want %d", len(b), want)
	}
	r := bytes.NewReader(b)
	var s StatFSReply
	binary.Read(r, order, &s.BlockSize)
	binary.Read(r, order, &s.Blocks)
	binary.Read(r, order, &s.BlocksFree)
	binary.Read(r, order, &s.BlocksAvail)
	binary.Read(r, order, &s.Files)
	binary.Read(r, order, &s.FilesFree)
	binary.Read(r, order, &s.NameMax)
	return s, nil
}

// EncodeTypeProbeArgs serializes a TypeProbeArgs: a count followed by that
// many (name-length, name-bytes, size) tuples. Unlike the rest of this
// file's fixed-width structs, TypeProbeArgs carries a variable number of
// variable-length names, so it gets one length-prefixed field instead of
// a fixed offset table.
func EncodeTypeProbeArgs(p TypeProbeArgs) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, order, uint32(len(p.Entries)))
	for _, e := range p.Entries {
		binary.Write(&buf, order, uint32(len(e.Name)))
		buf.WriteString(e.Name)
		binary.Write(&buf, order, e.Size)
	}
	return buf.Bytes()
}

// DecodeTypeProbeArgs parses bytes produced by EncodeTypeProbeArgs.
func DecodeTypeProbeArgs(b []byte) (TypeProbeArgs, error) {
	if len(b) < 4 {
		return TypeProbeArgs{}, fmt.Errorf("wire: short TypeProbeArgs")
	}
	r := bytes.NewReader(b)
	var n uint32
	binary.Read(r, order, &n)
	entries := make([]SizeEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		var nameLen uint32
		if err := binary.Read(r, order, &nameLen); err != nil {
			return TypeProbeArgs{}, fmt.Errorf("wire: truncated TypeProbeArgs entry %d: %w", i, err)
		}
		name := make([]byte, nameLen)
		if _, err := r.Read(name); err != nil {
			return TypeProbeArgs{}, fmt.Errorf("wire: truncated TypeProbeArgs entry %d name: %w", i, err)
		}
		var size uint32
		if err := binary.Read(r, order, &size); err != nil {
			return TypeProbeArgs{}, fmt.Errorf("wire: truncated TypeProbeArgs entry %d size: %w", i, err)
		}
		entries = append(entries, SizeEntry{Name: string(name), Size: size})
	}
	return TypeProbeArgs{Entries: entries}, nil
}

// EncodeFd serializes a host file descriptor as the 4-byte reply to Open
// and Create.
func EncodeFd(fd int) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, order, int32(fd))
	return buf.Bytes()
}

// DecodeFd parses bytes produced by EncodeFd.
func DecodeFd(b []byte) (int, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("wire: short fd reply: got %d bytes, want 4", len(b))
	}
	r := bytes.NewReader(b)
	var fd int32
	binary.Read(r, order, &fd)
	return int(fd), nil
}
