package main

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/fpang/page-restyle/internal/store"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadPageNaturalOrder(t *testing.T) {
	desktop := t.TempDir()
	mobile := t.TempDir()
	for _, name := range []string{"section-10.png", "section-2.png", "section-1.png"} {
		writePNG(t, filepath.Join(desktop, name), 40, 30)
	}
	os.WriteFile(filepath.Join(desktop, "notes.txt"), []byte("skip me"), 0o644)
	writePNG(t, filepath.Join(mobile, "section-2.png"), 20, 50)

	page, err := loadPage("p", "me", desktop, mobile)
	if err != nil {
		t.Fatalf("loadPage: %v", err)
	}
	var ids []string
	for _, s := range page.Sections {
		ids = append(ids, s.ID)
	}
	want := []string{"section-1", "section-2", "section-10"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v", ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids = %v, want %v", ids, want)
			break
		}
	}

	s2 := page.Sections[1]
	if s2.Desktop.Width != 40 || s2.Desktop.Height != 30 {
		t.Errorf("desktop dims = %dx%d", s2.Desktop.Width, s2.Desktop.Height)
	}
	if s2.Image(store.ViewportMobile) == nil || s2.Mobile.Height != 50 {
		t.Errorf("mobile capture not matched: %+v", s2.Mobile)
	}
	if page.Sections[0].Mobile != nil {
		t.Error("unmatched section should have no mobile capture")
	}
}

func TestLoadPageEmptyDir(t *testing.T) {
	if _, err := loadPage("p", "me", t.TempDir(), ""); err == nil {
		t.Error("expected error for a directory without images")
	}
}

func TestParseOffset(t *testing.T) {
	tests := []struct {
		in      string
		id      string
		top     int
		bottom  int
		wantErr bool
	}{
		{in: "hero=50:0", id: "hero", top: 50},
		{in: "footer=-20:15", id: "footer", top: -20, bottom: 15},
		{in: " cta = 5 : -5 ", id: "cta", top: 5, bottom: -5},
		{in: "hero", wantErr: true},
		{in: "=1:2", wantErr: true},
		{in: "hero=1", wantErr: true},
		{in: "hero=a:2", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			o, err := parseOffset(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseOffset(%q) = %+v, want error", tt.in, o)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseOffset(%q): %v", tt.in, err)
			}
			if o.SectionID != tt.id || o.OffsetTop != tt.top || o.OffsetBottom != tt.bottom {
				t.Errorf("parseOffset(%q) = %+v", tt.in, o)
			}
		})
	}
}
