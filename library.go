package de265

import "fmt"

// Available reports whether libde265 could be loaded.
func Available() bool {
	return loadLibrary() == nil
}

// Version returns the major, minor and maintenance numbers of the loaded
// libde265, or zeros when it is unavailable.
func Version() [3]uint8 {
	n, err := libraryVersionNumber()
	if err != nil {
		return [3]uint8{}
	}
	// de265_get_version_number packs 0xMMmmpp00.
	return [3]uint8{uint8(n >> 24), uint8(n >> 16), uint8(n >> 8)}
}

// VersionString formats Version as "major.minor.maintenance".
func VersionString() string {
	v := Version()
	return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2])
}

// DisableLogging silences libde265's own diagnostic output process-wide.
func DisableLogging() error {
	return libraryDisableLogging()
}

// SetVerbosity sets libde265's process-wide log level.
func SetVerbosity(level uint8) error {
	return librarySetVerbosity(int32(level))
}

// ErrorText returns libde265's own description of a status code, falling
// back to Code.Error when the library is unavailable.
func ErrorText(c Code) string {
	if s := libraryErrorText(int32(c)); s != "" {
		return s
	}
	return c.Error()
}
