package types

import "testing"

func TestArchivedFileStreamURL(t *testing.T) {
	af := ArchivedFile{ChannelID: 1001, MsgID: 55}
	got := af.StreamURL("https://cdn.example.com")
	want := "https://cdn.example.com/stream/1001/55"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestHashableFileStructPackIsStable(t *testing.T) {
	f := HashableFileStruct{FileName: "a.mp4", FileSize: 100, MimeType: "video/mp4", FileID: 7}
	a := f.Pack()
	b := f.Pack()
	if a != b {
		t.Fatalf("Pack should be deterministic: %q vs %q", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("expected an md5 hex digest (32 chars), got %d: %q", len(a), a)
	}
}

func TestHashableFileStructPackDistinguishesFields(t *testing.T) {
	base := HashableFileStruct{FileName: "a.mp4", FileSize: 100, MimeType: "video/mp4", FileID: 7}
	variants := []HashableFileStruct{
		{FileName: "b.mp4", FileSize: 100, MimeType: "video/mp4", FileID: 7},
		{FileName: "a.mp4", FileSize: 200, MimeType: "video/mp4", FileID: 7},
		{FileName: "a.mp4", FileSize: 100, MimeType: "audio/mpeg", FileID: 7},
		{FileName: "a.mp4", FileSize: 100, MimeType: "video/mp4", FileID: 8},
	}
	basePacked := base.Pack()
	for i, v := range variants {
		if v.Pack() == basePacked {
			t.Fatalf("variant %d should produce a different dedupe key", i)
		}
	}
}
