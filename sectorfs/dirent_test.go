package sectorfs

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"
)

func TestDirEntryRoundTrip(t *testing.T) {
	e := dirEntry{name: "notes.txt", inUse: true, inum: 77}
	buf, err := encodeDirEntry(e)
	if err != nil {
		t.Fatal(err)
	}
	got := decodeDirEntry(buf)
	if diff := pretty.Compare(e, got); diff != "" {
		t.Fatalf("decodeDirEntry round trip differs (-want +got):\n%s", diff)
	}
}

func TestDirEntryNameTooLong(t *testing.T) {
	e := dirEntry{name: "this-name-is-far-too-long-to-fit-in-27-bytes"}
	if _, err := encodeDirEntry(e); err != errNameTooLong {
		t.Fatalf("expected errNameTooLong, got %v", err)
	}
}
