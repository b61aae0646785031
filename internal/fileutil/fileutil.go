// Package fileutil holds the small path and formatting helpers shared by the
// command-line tools.
package fileutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultDirPermissions  = 0o750
	invalidCharReplacement = "_"
	narrationExt           = ".wav"
)

// Data size constants.
const (
	kilobyte = 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

// Time and size formatting constants.
const (
	secondsInMinute = 60
	secondsInHour   = 3600
	formatSeconds   = "%.1fs"
	formatMinutes   = "%dm %.1fs"
	formatHours     = "%dh %dm"
	formatGB        = "%.1f GB"
	formatMB        = "%.1f MB"
	formatKB        = "%.1f KB"
	formatBytes     = "%d B"
)

// Image extensions accepted for identification.
const (
	extJPG  = ".jpg"
	extJPEG = ".jpeg"
	extPNG  = ".png"
	extWEBP = ".webp"
	extBMP  = ".bmp"
	extTIFF = ".tiff"
	extTIF  = ".tif"
)

var (
	// ErrUnsupportedImage is returned for files that are not a supported image format.
	ErrUnsupportedImage = errors.New("unsupported image format")
	// ErrNotAFile is returned when an image path names a directory.
	ErrNotAFile = errors.New("not a regular file")
	// ErrNotADirectory is returned when a directory path names a file.
	ErrNotADirectory = errors.New("not a directory")
)

// EnsureDir creates the directory and its parents when missing. An existing
// non-directory at path is an error.
func EnsureDir(path string) error {
	info, statErr := os.Stat(path)

	switch {
	case statErr == nil && !info.IsDir():
		return fmt.Errorf("failed to create directory %s: %w", path, ErrNotADirectory)
	case statErr == nil:
		return nil
	case !os.IsNotExist(statErr):
		return fmt.Errorf("failed to check directory %s: %w", path, statErr)
	}

	mkdirErr := os.MkdirAll(path, defaultDirPermissions)
	if mkdirErr != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, mkdirErr)
	}

	return nil
}

// IsSupportedImage reports whether the filename has an image extension the
// classifier accepts. The check is case-insensitive.
func IsSupportedImage(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case extJPG, extJPEG, extPNG, extWEBP, extBMP, extTIFF, extTIF:
		return true
	default:
		return false
	}
}

// ReadImage validates the path and returns the file contents. Files larger than
// maxBytes are rejected when maxBytes is positive.
func ReadImage(path string, maxBytes int) ([]byte, error) {
	if !IsSupportedImage(path) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, path)
	}

	info, statErr := os.Stat(path)
	if statErr != nil {
		return nil, fmt.Errorf("failed to stat image %s: %w", path, statErr)
	}

	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotAFile, path)
	}

	if maxBytes > 0 && info.Size() > int64(maxBytes) {
		return nil, fmt.Errorf("image %s is %s, limit is %s",
			path, FormatFileSize(info.Size()), FormatFileSize(int64(maxBytes)))
	}

	data, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", path, readErr)
	}

	return data, nil
}

// NarrationPath returns the default output file for a component narration.
func NarrationPath(dir, componentID string) string {
	return filepath.Join(dir, SanitizeFilename(componentID)+narrationExt)
}

// FormatDuration formats seconds as "45.2s", "5m 30.5s" or "1h 15m".
func FormatDuration(seconds float64) string {
	if seconds < secondsInMinute {
		return fmt.Sprintf(formatSeconds, seconds)
	}

	if seconds < secondsInHour {
		minutes := int(seconds / secondsInMinute)
		remainingSeconds := seconds - float64(minutes*secondsInMinute)

		return fmt.Sprintf(formatMinutes, minutes, remainingSeconds)
	}

	hours := int(seconds / secondsInHour)
	remainingSeconds := seconds - float64(hours*secondsInHour)
	remainingMinutes := int(remainingSeconds / secondsInMinute)

	return fmt.Sprintf(formatHours, hours, remainingMinutes)
}

// FormatFileSize formats a byte count as "1.2 GB", "500.5 MB", "3.0 KB" or "12 B".
func FormatFileSize(bytes int64) string {
	switch {
	case bytes >= gigabyte:
		return fmt.Sprintf(formatGB, float64(bytes)/gigabyte)
	case bytes >= megabyte:
		return fmt.Sprintf(formatMB, float64(bytes)/megabyte)
	case bytes >= kilobyte:
		return fmt.Sprintf(formatKB, float64(bytes)/kilobyte)
	default:
		return fmt.Sprintf(formatBytes, bytes)
	}
}

// SanitizeFilename replaces characters that are invalid in most filesystems.
func SanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"<", invalidCharReplacement,
		">", invalidCharReplacement,
		":", invalidCharReplacement,
		"\"", invalidCharReplacement,
		"/", invalidCharReplacement,
		"\\", invalidCharReplacement,
		"|", invalidCharReplacement,
		"?", invalidCharReplacement,
		"*", invalidCharReplacement,
	)

	return replacer.Replace(filename)
}
