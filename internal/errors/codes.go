// Package errors provides structured error handling for checklibimport.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (file, search path)
//   - 3XX: Native image errors (load, parse)
//   - 4XX: Managed metadata errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and search-path I/O errors.
	CategoryIO Category = "IO"
	// CategoryImage indicates native library image errors.
	CategoryImage Category = "IMAGE"
	// CategoryMetadata indicates managed metadata errors.
	CategoryMetadata Category = "METADATA"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeFileNotFound    = "ERR_201_FILE_NOT_FOUND"
	ErrCodeLibraryNotFound = "ERR_202_LIBRARY_NOT_FOUND"
	ErrCodeInvalidPath     = "ERR_203_INVALID_PATH"

	// Native image errors (300-399)
	ErrCodeLoadFailed       = "ERR_301_LOAD_FAILED"
	ErrCodeMalformedImage   = "ERR_302_MALFORMED_IMAGE"
	ErrCodeResidentMissing  = "ERR_303_RESIDENT_MODULE_MISSING"
	ErrCodeUnsupportedImage = "ERR_304_UNSUPPORTED_IMAGE"

	// Managed metadata errors (400-499)
	ErrCodeNotManaged       = "ERR_401_NOT_MANAGED"
	ErrCodeCorruptMetadata  = "ERR_402_CORRUPT_METADATA"
	ErrCodeUnsupportedTable = "ERR_403_UNSUPPORTED_TABLE"

	// Internal errors (500-599)
	ErrCodeInternal = "ERR_501_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract leading digit of the numeric portion (e.g., "1" from "ERR_101_...").
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryImage
	case '4':
		return CategoryMetadata
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	// A resident system module missing from our own process means the host
	// is corrupt; nothing sensible can continue.
	if code == ErrCodeResidentMissing {
		return SeverityFatal
	}
	return SeverityError
}
