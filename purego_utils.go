//go:build (darwin || linux) && !cgo

// Library discovery and C string helpers for the purego backend.

package de265

import (
	"os"
	"path/filepath"
	"runtime"
	"unsafe"
)

// maxCString bounds reads of NUL-terminated strings owned by libde265.
const maxCString = 4096

// goStringFromPtr copies a NUL-terminated C string into Go memory.
func goStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	p := unsafe.Pointer(ptr)
	n := 0
	for n < maxCString && *(*byte)(unsafe.Add(p, n)) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(p), n))
}

// libraryPaths lists the places libde265 is looked for, most specific first:
// DE265_LIB_PATH (a file), DE265_SDK_LIB_PATH (a directory), next to the
// executable, local build directories, then the system loader.
func libraryPaths() []string {
	libName := "libde265.so"
	system := []string{"libde265.so.0", "libde265.so", "/usr/local/lib/libde265.so", "/usr/lib/libde265.so"}
	if runtime.GOOS == "darwin" {
		libName = "libde265.dylib"
		system = []string{"libde265.0.dylib", "libde265.dylib", "/usr/local/lib/libde265.dylib", "/opt/homebrew/lib/libde265.dylib"}
	}

	var paths []string
	if p := os.Getenv("DE265_LIB_PATH"); p != "" {
		paths = append(paths, p)
	}
	if dir := os.Getenv("DE265_SDK_LIB_PATH"); dir != "" {
		paths = append(paths, filepath.Join(dir, libName))
	}
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		paths = append(paths, filepath.Join(dir, libName), filepath.Join(dir, "..", "lib", libName))
	}
	if wd, err := os.Getwd(); err == nil {
		for _, rel := range []string{"build", "../build", "../../build"} {
			paths = append(paths, filepath.Join(wd, rel, libName))
		}
	}
	if root := findModuleRoot(); root != "" {
		paths = append(paths, filepath.Join(root, "build", libName))
	}
	return append(paths, system...)
}

// findModuleRoot returns the nearest directory at or above the working
// directory that contains go.mod.
func findModuleRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
