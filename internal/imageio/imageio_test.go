package imageio

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Pikachu", "Pikachu"},
		{"Évoli", "Evoli"},
		{"Noctali-ß", "Noctali-ss"},
		{"Nidoran♀", "Nidoran"}, // female sign has no ASCII form
		{"Farfetch'd", "Farfetch'd"},
		{`Ho/Oh:test`, "HoOhtest"},
		{"Porygon2", "Porygon2"},
		{"Äösch über", "Aosch uber"},
	}
	for _, tc := range cases {
		if got := SanitizeFilename(tc.in); got != tc.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestUniqueName(t *testing.T) {
	dir := t.TempDir()

	if got := UniqueName(dir, "card.jpg"); got != "card.jpg" {
		t.Fatalf("free name: got %q", got)
	}

	for _, name := range []string{"card.jpg", "card(1).jpg"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if got := UniqueName(dir, "card.jpg"); got != "card(2).jpg" {
		t.Fatalf("collision name: got %q", got)
	}
}

func TestIsSupportedFormat(t *testing.T) {
	for _, path := range []string{"a.jpg", "b.JPEG", "c.png", "d.webp", "e.bmp"} {
		if !IsSupportedFormat(path) {
			t.Errorf("expected %q to be supported", path)
		}
	}
	for _, path := range []string{"a.tiff", "b.txt", "c"} {
		if IsSupportedFormat(path) {
			t.Errorf("expected %q to be unsupported", path)
		}
	}
}
