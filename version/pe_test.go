// Copyright 2025 The Cockroach Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package version

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildMinimalPE assembles the smallest PE32 image readVersionResourceData
// knows how to walk: one ".rsrc" section holding a resource directory tree
// of depth three (RT_VERSION -> name -> language) whose leaf data entry
// points at a VS_VERSIONINFO/VS_FIXEDFILEINFO structure carrying the given
// file-version words.
func buildMinimalPE(t *testing.T, major, minor, patch, build uint16) []byte {
	t.Helper()

	const (
		lfanew           = 128
		coffOffset       = lfanew + 4
		sizeOfOptHeader  = 120
		optHeaderOffset  = coffOffset + 20
		sectionOffset    = optHeaderOffset + sizeOfOptHeader
		pointerToRawData = 1024
		resourceVA       = 0x2000

		// Offsets within the resource table ("rt"), not the file.
		rootDirOff  = 0
		nameDirOff  = 24
		langDirOff  = 48
		dataEntOff  = 72
		versionOff  = 88
		versionSize = 92
		tableSize   = versionOff + versionSize
	)

	buf := make([]byte, pointerToRawData+tableSize)

	copy(buf[0:2], []byte("MZ"))
	binary.LittleEndian.PutUint16(buf[0x3C:0x3E], lfanew)
	copy(buf[lfanew:lfanew+4], []byte("PE\x00\x00"))

	binary.LittleEndian.PutUint16(buf[coffOffset+2:coffOffset+4], 1)               // numberOfSections
	binary.LittleEndian.PutUint16(buf[coffOffset+16:coffOffset+18], sizeOfOptHeader) // sizeOfOptionalHeader

	binary.LittleEndian.PutUint16(buf[optHeaderOffset:optHeaderOffset+2], 0x10B) // PE32 magic
	binary.LittleEndian.PutUint32(buf[optHeaderOffset+92:optHeaderOffset+96], 3) // number_of_rva_and_sizes
	dir2 := optHeaderOffset + 96 + 2*8
	binary.LittleEndian.PutUint32(buf[dir2:dir2+4], resourceVA)
	binary.LittleEndian.PutUint32(buf[dir2+4:dir2+8], tableSize)

	copy(buf[sectionOffset:sectionOffset+8], []byte(".rsrc\x00\x00\x00"))
	binary.LittleEndian.PutUint32(buf[sectionOffset+8:sectionOffset+12], tableSize)  // virtualSize
	binary.LittleEndian.PutUint32(buf[sectionOffset+12:sectionOffset+16], resourceVA)
	binary.LittleEndian.PutUint32(buf[sectionOffset+16:sectionOffset+20], tableSize)  // sizeOfRawData
	binary.LittleEndian.PutUint32(buf[sectionOffset+20:sectionOffset+24], pointerToRawData)

	rt := pointerToRawData
	putDir := func(off int, id uint32, offsetToData uint32) {
		binary.LittleEndian.PutUint16(buf[rt+off+12:rt+off+14], 0) // numberOfNamedEntries
		binary.LittleEndian.PutUint16(buf[rt+off+14:rt+off+16], 1) // numberOfIdEntries
		binary.LittleEndian.PutUint32(buf[rt+off+16:rt+off+20], id)
		binary.LittleEndian.PutUint32(buf[rt+off+20:rt+off+24], offsetToData)
	}
	putDir(rootDirOff, 16 /* RT_VERSION */, uint32(nameDirOff)|0x80000000)
	putDir(nameDirOff, 1, uint32(langDirOff)|0x80000000)
	putDir(langDirOff, 0x409, uint32(dataEntOff)) // no high bit: leaf, not a subdirectory

	binary.LittleEndian.PutUint32(buf[rt+dataEntOff:rt+dataEntOff+4], resourceVA+versionOff) // dataRVA
	binary.LittleEndian.PutUint32(buf[rt+dataEntOff+4:rt+dataEntOff+8], versionSize)

	vi := rt + versionOff
	binary.LittleEndian.PutUint16(buf[vi:vi+2], versionSize) // wLength
	binary.LittleEndian.PutUint16(buf[vi+2:vi+4], 52)        // VS_FIXEDFILEINFO length
	fixed := vi + fixedFileInfoOffset
	copy(buf[fixed:fixed+4], fixedFileInfoSignature[:])
	binary.LittleEndian.PutUint16(buf[fixed+8:fixed+10], minor)
	binary.LittleEndian.PutUint16(buf[fixed+10:fixed+12], major)
	binary.LittleEndian.PutUint16(buf[fixed+12:fixed+14], patch)
	binary.LittleEndian.PutUint16(buf[fixed+14:fixed+16], build)

	return buf
}

func writePE(t *testing.T, major, minor, patch, build uint16) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plugin.dll")
	require.NoError(t, os.WriteFile(path, buildMinimalPE(t, major, minor, patch, build), 0o644))
	return path
}

func TestReadFileVersion(t *testing.T) {
	path := writePE(t, 0, 18, 2, 0)
	got, err := ReadFileVersion(path)
	require.NoError(t, err)
	require.Equal(t, "0.18.2.0", got)
}

func TestReadFileVersionNotAPE(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Blank.esm")
	require.NoError(t, os.WriteFile(path, []byte("not a PE image"), 0o644))

	_, err := ReadFileVersion(path)
	require.ErrorIs(t, err, ErrNotAPE)
}
