package wire_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/wdzonar/zonar/wire"
)

func TestReqHeaderRoundTrip(t *testing.T) {
	in := wire.ReqHeader{
		Magic:       wire.Magic,
		ID:          wire.ReqFileExtents,
		ZoneNumber:  3,
		ZoneCount:   7,
		Sector:      1 << 40,
		SectorCount: 2048,
		Path:        "/mnt/data/file.bin",
	}

	var buf bytes.Buffer
	if err := in.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var out wire.ReqHeader
	if err := out.Decode(&buf); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestReqHeaderDecodeBadMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(make([]byte, 16+16+wire.PathMax))

	var out wire.ReqHeader
	if err := out.Decode(&buf); err == nil {
		t.Fatal("expected an error decoding a zero-magic header")
	}
}

func TestReqHeaderPathTruncatesAtNUL(t *testing.T) {
	// The fixed PathMax field carries a NUL-padded path; a path shorter
	// than PathMax round-trips because decode stops at the first zero byte
	// of the padding.
	in := wire.ReqHeader{Magic: wire.Magic, Path: strings.Repeat("a", 100)}

	var buf bytes.Buffer
	if err := in.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var out wire.ReqHeader
	if err := out.Decode(&buf); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Path != in.Path {
		t.Fatalf("got path %q, want %q", out.Path, in.Path)
	}
}

func TestRepHeaderRoundTrip(t *testing.T) {
	in := wire.RepHeader{Magic: wire.Magic, ID: wire.ReqDevInfo, Err: 0, DataSize: 128}
	var buf bytes.Buffer
	if err := in.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var out wire.RepHeader
	if err := out.Decode(&buf); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestMntdirInfoPayloadRoundTrip(t *testing.T) {
	in := wire.MntdirInfoPayload{FSType: 0x58465342, MountPath: "/mnt/zoned"}
	var buf bytes.Buffer
	if err := in.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if buf.Len() != in.Size() {
		t.Fatalf("encoded %d bytes, Size() reports %d", buf.Len(), in.Size())
	}
	var out wire.MntdirInfoPayload
	if err := out.Decode(&buf); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestDevInfoPayloadRoundTrip(t *testing.T) {
	in := wire.DevInfoPayload{
		DevicePath:        "/dev/sdz1",
		VendorID:          "ACME  ZONED-DRIVE  1.0 ",
		Sectors:           1 << 30,
		LogicalBlocks:     1 << 20,
		PhysicalBlocks:    1 << 18,
		ZoneSize:          256 << 20,
		ZoneSectors:       524288,
		LogicalBlockSize:  512,
		PhysicalBlockSize: 4096,
		ZoneCount:         4096,
		MaxOpenZones:      128,
		MaxActiveZones:    128,
		IsZoned:           true,
	}

	var buf bytes.Buffer
	if err := in.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if buf.Len() != in.Size() {
		t.Fatalf("encoded %d bytes, Size() reports %d", buf.Len(), in.Size())
	}

	var out wire.DevInfoPayload
	if err := out.Decode(&buf); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestZoneRecordRoundTrip(t *testing.T) {
	in := wire.ZoneRecord{
		Start: 0, Length: 524288, WP: 1024, Capacity: 524288,
		Type: 2, Cond: 1, NonSeq: 0, Reset: 0,
	}
	var buf bytes.Buffer
	if err := in.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if buf.Len() != wire.ZoneRecordSize {
		t.Fatalf("encoded %d bytes, want %d", buf.Len(), wire.ZoneRecordSize)
	}
	var out wire.ZoneRecord
	if err := out.Decode(&buf); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestExtentRecordRoundTrip(t *testing.T) {
	in := wire.ExtentRecord{
		Tag: 0, Index: 3, Ino: 99887, Sector: 4096, NrSectors: 512,
		Info: "extent 3: file offset [0..511], length 512",
	}
	var buf bytes.Buffer
	if err := in.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if buf.Len() != wire.ExtentRecordSize {
		t.Fatalf("encoded %d bytes, want %d", buf.Len(), wire.ExtentRecordSize)
	}
	var out wire.ExtentRecord
	if err := out.Decode(&buf); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestBlockgroupRecordRoundTrip(t *testing.T) {
	in := wire.BlockgroupRecord{Sector: 1024, NrSectors: 2048, WPSector: 512, Flags: 2, NrZones: 3}
	var buf bytes.Buffer
	if err := in.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if buf.Len() != wire.BlockgroupRecordSize {
		t.Fatalf("encoded %d bytes, want %d", buf.Len(), wire.BlockgroupRecordSize)
	}
	var out wire.BlockgroupRecord
	if err := out.Decode(&buf); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestBlockgroupCountRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := wire.WriteBlockgroupCount(&buf, 42); err != nil {
		t.Fatalf("WriteBlockgroupCount: %v", err)
	}
	got, err := wire.ReadBlockgroupCount(&buf)
	if err != nil {
		t.Fatalf("ReadBlockgroupCount: %v", err)
	}
	if got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}
