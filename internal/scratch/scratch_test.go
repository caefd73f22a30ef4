package scratch

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fileHeader builds a *multipart.FileHeader the way a server would see it.
func fileHeader(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest("POST", "/", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if err := req.ParseMultipartForm(1 << 20); err != nil {
		t.Fatalf("parse form: %v", err)
	}
	return req.MultipartForm.File["file"][0]
}

func TestSuffix(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"episode.mp3", ".mp3"},
		{"archive.tar.ogg", ".ogg"},
		{"noext", DefaultSuffix},
		{"trailing.", DefaultSuffix},
		{"", DefaultSuffix},
		{"../../etc/voice.wav", ".wav"},
	}
	for _, tt := range tests {
		if got := Suffix(tt.filename); got != tt.want {
			t.Errorf("Suffix(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}

func TestSaveAndRemove(t *testing.T) {
	dir := t.TempDir()
	content := []byte("RIFF fake wav bytes")

	f, err := Save(dir, fileHeader(t, "clip.wav", content))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if filepath.Dir(f.Path) != dir || !strings.HasSuffix(f.Path, ".wav") {
		t.Errorf("unexpected scratch path %s", f.Path)
	}
	got, err := os.ReadFile(f.Path)
	if err != nil {
		t.Fatalf("read scratch: %v", err)
	}
	if !bytes.Equal(got, content) || f.Size != int64(len(content)) {
		t.Errorf("scratch content mismatch: %q (size %d)", got, f.Size)
	}

	if err := f.Remove(); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := f.Remove(); err != nil {
		t.Errorf("second remove: %v", err)
	}
	if _, err := os.Stat(f.Path); !os.IsNotExist(err) {
		t.Errorf("scratch file still present: %v", err)
	}
}

func TestSaveUniqueNames(t *testing.T) {
	dir := t.TempDir()
	a, err := Save(dir, fileHeader(t, "same.mp3", []byte("a")))
	if err != nil {
		t.Fatalf("save a: %v", err)
	}
	defer a.Remove()
	b, err := Save(dir, fileHeader(t, "same.mp3", []byte("b")))
	if err != nil {
		t.Fatalf("save b: %v", err)
	}
	defer b.Remove()

	if a.Path == b.Path {
		t.Errorf("two uploads share %s", a.Path)
	}
}

func TestSaveEmptyUpload(t *testing.T) {
	dir := t.TempDir()
	if _, err := Save(dir, fileHeader(t, "empty.wav", nil)); !errors.Is(err, ErrEmptyUpload) {
		t.Fatalf("expected ErrEmptyUpload, got %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no scratch files, found %d", len(entries))
	}
}

func TestRemoveMissingFile(t *testing.T) {
	f := &File{Path: filepath.Join(t.TempDir(), "gone.audio")}
	if err := f.Remove(); err != nil {
		t.Errorf("removing a missing file: %v", err)
	}
}
