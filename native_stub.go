//go:build !darwin && !linux

package de265

// No native backend on this platform; NewDecoder reports
// ErrLibraryUnavailable.

func loadLibrary() error { return ErrLibraryUnavailable }

func libraryVersionNumber() (uint32, error) { return 0, ErrLibraryUnavailable }

func libraryDisableLogging() error { return ErrLibraryUnavailable }

func librarySetVerbosity(int32) error { return ErrLibraryUnavailable }

func libraryErrorText(int32) string { return "" }
