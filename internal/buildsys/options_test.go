package buildsys

import (
	"strings"
	"testing"
)

const configureHelp = `
Optional Features:
  --enable-gui            build the graphical frontend
  --enable-static         build static libraries
                          (slower to link)
  --with-ssl              use OpenSSL for TLS support

Some other text that mentions --enable-gui again.
`

func TestParseConfigureOptions(t *testing.T) {
	opts := ParseConfigureOptions(configureHelp)

	byFlag := make(map[string]ConfigOption)
	for _, o := range opts {
		if _, dup := byFlag[o.Flag]; dup {
			t.Errorf("duplicate flag %q", o.Flag)
		}
		byFlag[o.Flag] = o
	}

	gui, ok := byFlag["--enable-gui"]
	if !ok {
		t.Fatal("missing --enable-gui")
	}
	if !strings.Contains(gui.Description, "graphical frontend") {
		t.Errorf("description = %q", gui.Description)
	}
	if _, ok := byFlag["--with-ssl"]; !ok {
		t.Error("missing --with-ssl")
	}

	static := byFlag["--enable-static"]
	if strings.Contains(static.Description, "\n") {
		t.Errorf("description contains newline: %q", static.Description)
	}
}

func TestParseConfigureOptionsTruncatesDescription(t *testing.T) {
	help := "--enable-big " + strings.Repeat("x ", 300)
	opts := ParseConfigureOptions(help)
	if len(opts) != 1 {
		t.Fatalf("got %d options, want 1", len(opts))
	}
	if len(opts[0].Description) > maxDescription {
		t.Errorf("description length = %d, want <= %d", len(opts[0].Description), maxDescription)
	}
}

func TestParseCMakeCacheOptions(t *testing.T) {
	cache := `
BUILD_SHARED_LIBS:BOOL=ON
CMAKE_BUILD_TYPE:STRING=Release
CMAKE_CXX_FLAGS:STRING=-O2
CMAKE_INSTALL_PREFIX:PATH=/usr/local
ENABLE_TESTS:BOOL=OFF
not a cache line
`
	opts := ParseCMakeCacheOptions(cache)

	wantFlags := map[string]string{
		"-DBUILD_SHARED_LIBS":    "ON",
		"-DCMAKE_BUILD_TYPE":     "Release",
		"-DCMAKE_INSTALL_PREFIX": "/usr/local",
		"-DENABLE_TESTS":         "OFF",
	}
	got := make(map[string]string)
	for _, o := range opts {
		got[o.Flag] = o.Default
	}
	for flag, def := range wantFlags {
		if got[flag] != def {
			t.Errorf("%s default = %q, want %q", flag, got[flag], def)
		}
	}
	if _, ok := got["-DCMAKE_CXX_FLAGS"]; ok {
		t.Error("internal CMAKE_ variable not skipped")
	}
	if len(opts) != len(wantFlags) {
		t.Errorf("got %d options, want %d", len(opts), len(wantFlags))
	}
}
