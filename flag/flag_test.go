package flag_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/bobuhiro11/gobgrt/emulator"
	"github.com/bobuhiro11/gobgrt/flag"
)

func TestParseSize(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		s    string
		unit string
		want int
		ok   bool
	}{
		{"16M", "", 16 << 20, true},
		{"64k", "", 64 << 10, true},
		{"1", "g", 1 << 30, true},
		{"0x10", "", 16, true},
		{"32", "m", 32 << 20, true},
		{"M", "", -1, false},
		{"12x", "", -1, false},
		{"3", "t", -1, false},
	} {
		got, err := flag.ParseSize(tt.s, tt.unit)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseSize(%q, %q) = %d, %v", tt.s, tt.unit, got, err)
		}
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer

	err := flag.Run(append([]string{"--log-level", "error"}, args...), &stdout, &stderr)

	return stdout.String(), err
}

func TestRunVolume(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	if _, err := run(t, "init", dir, "--width", "320", "--height", "4"); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "run", "--volume", dir, "--json")
	if err != nil {
		t.Fatal(err)
	}

	var r emulator.Report
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("%v: %s", err, out)
	}

	if r.BGRT == nil || r.BGRT.ImageOffsetX != (1920-320)/2 {
		t.Fatalf("bgrt %+v", r.BGRT)
	}

	if len(r.Started) != 1 || !strings.HasSuffix(r.Started[0].Path, "bootmgfw.efi") {
		t.Fatalf("started %+v", r.Started)
	}
}

func TestRunMemoryImage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	img := filepath.Join(t.TempDir(), "mem.img")
	platform := filepath.Join(t.TempDir(), "platform.yaml")

	if err := os.WriteFile(platform, []byte("memory_size: 8388608\noem_id: ACME\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := run(t, "init", dir); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if _, err := run(t, "run", "-p", platform, "-v", dir, "-m", img); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	out, err := run(t, "inspect", "-p", platform, "-m", img)
	if err != nil {
		t.Fatal(err)
	}

	if strings.Count(out, "  BGRT ") != 1 || !strings.Contains(out, `oem="ACME"`) {
		t.Fatalf("inspect output:\n%s", out)
	}
}

func TestRunFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	if _, err := run(t, "init", dir); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(filepath.Join(dir, "EFI", "ACPIBGRT", "bg.bmp")); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "run", "--volume", dir)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("got %v", err)
	}

	if strings.Contains(out, "BGRT") || strings.Contains(out, "started") {
		t.Fatalf("output:\n%s", out)
	}
}

func TestRunArguments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	for _, args := range [][]string{
		{"run"},
		{"run", "--volume", dir, "--fat", filepath.Join(dir, "missing.img")},
		{"inspect"},
		{"--log-format", "xml", "init", dir},
	} {
		if _, err := run(t, args...); err == nil {
			t.Errorf("%v: expected an error", args)
		}
	}
}
