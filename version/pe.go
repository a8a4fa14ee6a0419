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
	"io"
	"os"
	"unicode/utf16"

	"github.com/cockroachdb/errors"
)

// ErrNotAPE is returned by the unexported pe-reading helpers when a file's
// leading bytes don't look like a PE image (bad "MZ"/"PE\0\0" magic). It is
// not a failure from the caller's point of view: per spec, a file that
// isn't a PE simply has no extractable version, reported as an empty
// string, not an error.
var ErrNotAPE = errors.New("not a recognised PE image")

const (
	rtVersion            = 16
	fixedFileInfoOffset  = 40
	fixedFileInfoSize    = 52
	fixedFileInfoSigSize = 4
)

var fixedFileInfoSignature = [4]byte{0xBD, 0x04, 0xEF, 0xFE}

// ReadFileVersion reads VS_FIXEDFILEINFO.dwFileVersion out of path's version
// resource and renders it as "major.minor.patch.build". It returns
// ("", ErrNotAPE) if path isn't a PE image, ("", nil) if it is a PE image
// with no (or empty) version resource, and a non-nil error wrapping
// ErrNotAPE only never — other parsing failures are returned directly and
// should be reported to the caller as malformed-PE errors.
func ReadFileVersion(path string) (string, error) {
	data, err := readVersionResource(path)
	if err != nil {
		return "", err
	}
	if data == nil {
		return "", nil
	}
	return fixedFileVersionString(data)
}

// ReadProductVersion reads the "ProductVersion" string field out of path's
// version resource, taking the first one found across its StringTables.
func ReadProductVersion(path string) (string, error) {
	data, err := readVersionResource(path)
	if err != nil {
		return "", err
	}
	if data == nil {
		return "", nil
	}
	return findProductVersionString(data)
}

// readVersionResource opens path, parses it as a PE image, locates the
// RT_VERSION resource's language-level leaf entry, and returns the raw
// VS_VERSIONINFO buffer it points to. It returns (nil, nil) when the PE is
// well-formed but has no version resource at all.
func readVersionResource(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := &peReader{f: f}
	return r.readVersionResourceData()
}

type peReader struct {
	f io.ReadSeeker
}

func (r *peReader) readExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.f, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (r *peReader) seek(offset int64) error {
	_, err := r.f.Seek(offset, io.SeekStart)
	return err
}

func (r *peReader) readVersionResourceData() ([]byte, error) {
	dosMagic, err := r.readExact(2)
	if err != nil {
		return nil, err
	}
	if string(dosMagic) != "MZ" {
		return nil, ErrNotAPE
	}

	if err := r.seek(0x3C); err != nil {
		return nil, err
	}
	lfanewBytes, err := r.readExact(2)
	if err != nil {
		return nil, err
	}
	lfanew := int64(binary.LittleEndian.Uint16(lfanewBytes))

	if err := r.seek(lfanew); err != nil {
		return nil, err
	}
	peMagic, err := r.readExact(4)
	if err != nil {
		return nil, err
	}
	if string(peMagic) != "PE\x00\x00" {
		return nil, ErrNotAPE
	}

	coff, err := readCOFFHeader(r)
	if err != nil {
		return nil, err
	}
	if coff.sizeOfOptionalHeader == 0 {
		return nil, errors.New("pe: optional header size is zero")
	}

	optionalHeader, err := r.readExact(int(coff.sizeOfOptionalHeader))
	if err != nil {
		return nil, err
	}
	resourceDir, ok, err := parseResourceDataDirectory(optionalHeader)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	for i := uint16(0); i < coff.numberOfSections; i++ {
		section, err := readSectionHeader(r)
		if err != nil {
			return nil, err
		}
		containing := sectionContaining(section, resourceDir)
		if !containing {
			continue
		}

		tableData, err := r.readResourceTableData(section, resourceDir)
		if err != nil {
			return nil, err
		}
		return readVersionDataFromResourceTable(section, tableData)
	}

	return nil, nil
}

type coffHeader struct {
	numberOfSections     uint16
	sizeOfOptionalHeader uint16
}

func readCOFFHeader(r *peReader) (coffHeader, error) {
	buf, err := r.readExact(2 + 2 + 12 + 2 + 2) // machine, sections, skip, opt-hdr size, characteristics
	if err != nil {
		return coffHeader{}, err
	}
	return coffHeader{
		numberOfSections:     binary.LittleEndian.Uint16(buf[2:4]),
		sizeOfOptionalHeader: binary.LittleEndian.Uint16(buf[16:18]),
	}, nil
}

type dataDirectory struct {
	virtualAddress uint32
	size           uint32
}

const (
	pe32Magic  = 0x10B
	pe32pMagic = 0x20B

	resourceDataDirectoryIndex = 2
)

// parseResourceDataDirectory reads the data-directory array out of an
// already-bounded optional-header buffer (bounded to size_of_optional_header
// bytes by the caller, so a malformed number_of_rva_and_sizes can never
// drive a read past the end of that buffer).
func parseResourceDataDirectory(hdr []byte) (dataDirectory, bool, error) {
	if len(hdr) < 2 {
		return dataDirectory{}, false, errors.New("pe: optional header truncated before magic")
	}
	magic := binary.LittleEndian.Uint16(hdr[0:2])

	var skip int
	switch magic {
	case pe32Magic:
		skip = 90
	case pe32pMagic:
		skip = 106
	default:
		return dataDirectory{}, false, errors.Newf("pe: unrecognised optional header magic 0x%x", magic)
	}

	offset := 2 + skip
	if offset+4 > len(hdr) {
		return dataDirectory{}, false, nil
	}
	numDirs := binary.LittleEndian.Uint32(hdr[offset : offset+4])
	offset += 4

	for i := uint32(0); i < numDirs; i++ {
		if offset+8 > len(hdr) {
			// A malformed (too-large) number_of_rva_and_sizes is clamped by
			// the bounded buffer rather than over-read.
			return dataDirectory{}, false, nil
		}
		if i == resourceDataDirectoryIndex {
			va := binary.LittleEndian.Uint32(hdr[offset : offset+4])
			size := binary.LittleEndian.Uint32(hdr[offset+4 : offset+8])
			if va == 0 || size == 0 {
				return dataDirectory{}, false, nil
			}
			return dataDirectory{virtualAddress: va, size: size}, true, nil
		}
		offset += 8
	}
	return dataDirectory{}, false, nil
}

type sectionHeader struct {
	virtualSize      uint32
	virtualAddress   uint32
	sizeOfRawData    uint32
	pointerToRawData uint32
}

func readSectionHeader(r *peReader) (sectionHeader, error) {
	buf, err := r.readExact(40)
	if err != nil {
		return sectionHeader{}, err
	}
	return sectionHeader{
		virtualSize:      binary.LittleEndian.Uint32(buf[8:12]),
		virtualAddress:   binary.LittleEndian.Uint32(buf[12:16]),
		sizeOfRawData:    binary.LittleEndian.Uint32(buf[16:20]),
		pointerToRawData: binary.LittleEndian.Uint32(buf[20:24]),
	}, nil
}

func sectionContaining(s sectionHeader, dir dataDirectory) bool {
	limit := s.sizeOfRawData
	if s.virtualSize < limit {
		limit = s.virtualSize
	}
	return dir.virtualAddress >= s.virtualAddress &&
		dir.virtualAddress+dir.size <= s.virtualAddress+limit
}

func (r *peReader) readResourceTableData(s sectionHeader, dir dataDirectory) ([]byte, error) {
	offset := int64(s.pointerToRawData) + int64(dir.virtualAddress-s.virtualAddress)
	if err := r.seek(offset); err != nil {
		return nil, err
	}
	return r.readExact(int(dir.size))
}

// resourceDataEntry is an IMAGE_RESOURCE_DATA_ENTRY: the leaf of a resource
// directory tree, pointing at the actual resource bytes.
type resourceDataEntry struct {
	dataRVA uint32
	size    uint32
}

// readVersionDataFromResourceTable walks root -> RT_VERSION -> first name ->
// first language directories inside the resource tree and returns the bytes
// of the VS_VERSIONINFO structure the leaf entry describes.
func readVersionDataFromResourceTable(section sectionHeader, table []byte) ([]byte, error) {
	root, err := readResourceDirectory(table, 0)
	if err != nil {
		return nil, err
	}
	versionEntry, ok := root.findByID(rtVersion)
	if !ok || !versionEntry.isSubdirectory() {
		return nil, nil
	}

	nameDir, err := readResourceDirectory(table, versionEntry.subdirectoryOffset())
	if err != nil {
		return nil, err
	}
	nameEntry, ok := nameDir.first()
	if !ok || !nameEntry.isSubdirectory() {
		return nil, nil
	}

	langDir, err := readResourceDirectory(table, nameEntry.subdirectoryOffset())
	if err != nil {
		return nil, err
	}
	langEntry, ok := langDir.first()
	if !ok || langEntry.isSubdirectory() {
		return nil, nil
	}

	dataEntry, err := readResourceDataEntry(table, langEntry.dataOffset())
	if err != nil {
		return nil, err
	}

	dataOffset := int64(dataEntry.dataRVA) - int64(section.virtualAddress)
	if dataOffset < 0 || dataOffset+int64(dataEntry.size) > int64(len(table)) {
		return nil, errors.New("pe: version resource data entry out of bounds")
	}
	return table[dataOffset : dataOffset+int64(dataEntry.size)], nil
}

type resourceDirEntry struct {
	id           uint32
	offsetToData uint32
}

func (e resourceDirEntry) isSubdirectory() bool {
	return e.offsetToData&0x80000000 != 0
}

func (e resourceDirEntry) subdirectoryOffset() int {
	return int(e.offsetToData &^ 0x80000000)
}

func (e resourceDirEntry) dataOffset() int {
	return int(e.offsetToData)
}

type resourceDirectory struct {
	entries []resourceDirEntry
}

func (d resourceDirectory) findByID(id uint32) (resourceDirEntry, bool) {
	for _, e := range d.entries {
		if e.id == id {
			return e, true
		}
	}
	return resourceDirEntry{}, false
}

func (d resourceDirectory) first() (resourceDirEntry, bool) {
	if len(d.entries) == 0 {
		return resourceDirEntry{}, false
	}
	return d.entries[0], true
}

func readResourceDirectory(table []byte, offset int) (resourceDirectory, error) {
	if offset < 0 || offset+16 > len(table) {
		return resourceDirectory{}, errors.New("pe: resource directory header out of bounds")
	}
	numNamed := binary.LittleEndian.Uint16(table[offset+12 : offset+14])
	numID := binary.LittleEndian.Uint16(table[offset+14 : offset+16])

	total := int(numNamed) + int(numID)
	entriesStart := offset + 16
	if entriesStart+total*8 > len(table) {
		return resourceDirectory{}, errors.New("pe: resource directory entries out of bounds")
	}

	dir := resourceDirectory{entries: make([]resourceDirEntry, 0, total)}
	for i := 0; i < total; i++ {
		entryOffset := entriesStart + i*8
		dir.entries = append(dir.entries, resourceDirEntry{
			id:           binary.LittleEndian.Uint32(table[entryOffset : entryOffset+4]),
			offsetToData: binary.LittleEndian.Uint32(table[entryOffset+4 : entryOffset+8]),
		})
	}
	return dir, nil
}

func readResourceDataEntry(table []byte, offset int) (resourceDataEntry, error) {
	if offset < 0 || offset+16 > len(table) {
		return resourceDataEntry{}, errors.New("pe: resource data entry out of bounds")
	}
	return resourceDataEntry{
		dataRVA: binary.LittleEndian.Uint32(table[offset : offset+4]),
		size:    binary.LittleEndian.Uint32(table[offset+4 : offset+8]),
	}, nil
}

// fixedFileVersionString decodes VS_FIXEDFILEINFO.dwFileVersion out of a
// VS_VERSIONINFO buffer, per spec: four little-endian u16s at offset 48
// (FixedFileInfo's offset 8), read in the order minor, major, patch, build.
func fixedFileVersionString(versionInfo []byte) (string, error) {
	if len(versionInfo) < 6 {
		return "", errors.New("pe: version info header truncated")
	}
	valueLength := binary.LittleEndian.Uint16(versionInfo[2:4])
	if valueLength == 0 {
		return "", nil
	}

	if len(versionInfo) < fixedFileInfoOffset+fixedFileInfoSize {
		return "", errors.New("pe: VS_FIXEDFILEINFO truncated")
	}
	fixed := versionInfo[fixedFileInfoOffset : fixedFileInfoOffset+fixedFileInfoSize]
	if [4]byte(fixed[0:4]) != fixedFileInfoSignature {
		return "", errors.New("pe: bad VS_FIXEDFILEINFO signature")
	}

	words := fixed[8 : 8+8]
	minor := binary.LittleEndian.Uint16(words[0:2])
	major := binary.LittleEndian.Uint16(words[2:4])
	patch := binary.LittleEndian.Uint16(words[4:6])
	build := binary.LittleEndian.Uint16(words[6:8])

	return joinVersionWords(major, minor, patch, build), nil
}

func joinVersionWords(a, b, c, d uint16) string {
	return utoa(a) + "." + utoa(b) + "." + utoa(c) + "." + utoa(d)
}

func utoa(v uint16) string {
	if v == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// findProductVersionString walks the StringFileInfo/StringTable/String tree
// following VS_FIXEDFILEINFO, returning the first ProductVersion value
// found across all string tables (there is one per language/codepage).
func findProductVersionString(versionInfo []byte) (string, error) {
	if len(versionInfo) < fixedFileInfoOffset {
		return "", nil
	}
	valueLength := binary.LittleEndian.Uint16(versionInfo[2:4])

	childStart := fixedFileInfoOffset
	if valueLength > 0 {
		childStart += fixedFileInfoSize
	}
	childStart = align32(childStart)

	offset := childStart
	for offset+6 <= len(versionInfo) {
		childLength := int(binary.LittleEndian.Uint16(versionInfo[offset : offset+2]))
		if childLength == 0 {
			break
		}
		childEnd := offset + childLength
		if childEnd > len(versionInfo) {
			break
		}

		key, keyEnd, err := readUTF16CString(versionInfo, offset+6, childEnd)
		if err == nil && key == "StringFileInfo" {
			if v, ok := findProductVersionInStringFileInfo(versionInfo, align32(keyEnd), childEnd); ok {
				return v, nil
			}
		}

		if childLength%4 != 0 {
			offset += childLength + 2
		} else {
			offset += childLength
		}
	}
	return "", nil
}

func findProductVersionInStringFileInfo(data []byte, start, end int) (string, bool) {
	offset := start
	for offset+6 <= end {
		tableLength := int(binary.LittleEndian.Uint16(data[offset : offset+2]))
		if tableLength == 0 {
			break
		}
		tableEnd := offset + tableLength
		if tableEnd > end {
			break
		}

		_, keyEnd, err := readUTF16CString(data, offset+6, tableEnd)
		if err == nil {
			if v, ok := findProductVersionInStringTable(data, align32(keyEnd), tableEnd); ok {
				return v, true
			}
		}

		if tableLength%4 != 0 {
			offset += tableLength + 2
		} else {
			offset += tableLength
		}
	}
	return "", false
}

func findProductVersionInStringTable(data []byte, start, end int) (string, bool) {
	offset := start
	for offset+6 <= end {
		stringLength := int(binary.LittleEndian.Uint16(data[offset : offset+2]))
		if stringLength == 0 {
			break
		}
		valueLength := int(binary.LittleEndian.Uint16(data[offset+2 : offset+4]))
		stringEnd := offset + stringLength
		if stringEnd > end || stringEnd > len(data) {
			break
		}

		key, keyEnd, err := readUTF16CString(data, offset+6, stringEnd)
		if err == nil {
			valueStart := align32(keyEnd)
			// valueLength counts UTF-16 code units, not bytes.
			valueByteLen := valueLength * 2
			if key == "ProductVersion" && valueStart+valueByteLen <= len(data) {
				value := decodeUTF16LEStripNull(data[valueStart : valueStart+valueByteLen])
				return value, true
			}
		}

		if stringLength%4 != 0 {
			offset += stringLength + 2
		} else {
			offset += stringLength
		}
	}
	return "", false
}

func align32(offset int) int {
	if offset%4 != 0 {
		return offset + (4 - offset%4)
	}
	return offset
}

// readUTF16CString decodes a NUL-terminated UTF-16LE string starting at
// offset, bounded by limit, returning the decoded text and the byte offset
// just past its terminating NUL.
func readUTF16CString(data []byte, offset, limit int) (string, int, error) {
	if offset < 0 || offset > limit || limit > len(data) {
		return "", offset, errors.New("pe: string key out of bounds")
	}
	var units []uint16
	i := offset
	for {
		if i+2 > limit {
			return "", offset, errors.New("pe: unterminated UTF-16 string")
		}
		u := binary.LittleEndian.Uint16(data[i : i+2])
		i += 2
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units)), i, nil
}

func decodeUTF16LEStripNull(b []byte) string {
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+2 <= len(b); i += 2 {
		u := binary.LittleEndian.Uint16(b[i : i+2])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}
