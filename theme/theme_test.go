package theme

import (
	"strings"
	"testing"
)

func TestDefaultPalette(t *testing.T) {
	p := Default()
	if p.Name != "plasma" {
		t.Errorf("name = %q", p.Name)
	}
	if len(p.Colors) != 11 {
		t.Fatalf("colors = %d", len(p.Colors))
	}
	if got := Hex(p.Lookup(0)); got != "#0d0887" {
		t.Errorf("Lookup(0) = %s", got)
	}
	if got := Hex(p.Lookup(1)); got != "#f0f921" {
		t.Errorf("Lookup(1) = %s", got)
	}
}

func TestParseGPL(t *testing.T) {
	src := `GIMP Palette
Name: two
Columns: 2
# comment
0 0 0	black
200 100 0
300 0 0	out of range
1 2`
	p, err := ParseGPL(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Colors) != 2 {
		t.Fatalf("colors = %v", p.Colors)
	}
	if mid := p.Lookup(0.5); mid != (RGB{100, 50, 0}) {
		t.Errorf("Lookup(0.5) = %v", mid)
	}

	if _, err := ParseGPL(strings.NewReader("GIMP Palette\n")); err == nil {
		t.Error("empty palette accepted")
	}
}

func TestLoadOrDefault(t *testing.T) {
	p, err := LoadOrDefault("")
	if err != nil || p.Name != "plasma" {
		t.Errorf("empty path = %v, %v", p, err)
	}
	p, err = LoadOrDefault("/nonexistent/x.gpl")
	if err == nil || p == nil {
		t.Errorf("missing file = %v, %v", p, err)
	}
}
