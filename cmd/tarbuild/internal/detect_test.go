package internal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tarbuild/tarbuild/internal/buildsys"
)

func TestCMakeCacheOptionsFromExistingTree(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "CMakeLists.txt"), []byte("project(demo)\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	buildDir := buildsys.BuildDir(buildsys.CMake, src)
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		t.Fatal(err)
	}
	cache := "BUILD_SHARED_LIBS:BOOL=ON\nCMAKE_CXX_FLAGS:STRING=-O2\nENABLE_TESTS:BOOL=OFF\n"
	if err := os.WriteFile(filepath.Join(buildDir, "CMakeCache.txt"), []byte(cache), 0o644); err != nil {
		t.Fatal(err)
	}

	opts, err := cmakeCacheOptions(src)
	if err != nil {
		t.Fatal(err)
	}
	got := make(map[string]string)
	for _, o := range opts {
		got[o.Flag] = o.Default
	}
	if got["-DBUILD_SHARED_LIBS"] != "ON" || got["-DENABLE_TESTS"] != "OFF" {
		t.Errorf("options = %v", got)
	}
	if _, ok := got["-DCMAKE_CXX_FLAGS"]; ok {
		t.Error("internal CMAKE_ variable surfaced")
	}
}
