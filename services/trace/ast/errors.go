// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"errors"
	"fmt"
)

// Sentinel errors for analysis failures.
//
// Check these with errors.Is() to decide how to report a failure without
// inspecting message text.
var (
	// ErrInputNotFound indicates the path does not exist or is not a regular file.
	//
	// Example:
	//   return fmt.Errorf("%w: %s", ErrInputNotFound, absPath)
	ErrInputNotFound = errors.New("input not found")

	// ErrParseFailed indicates the source is not syntactically valid Python.
	// Returned wrapped in a *ParseError carrying the first error position.
	ErrParseFailed = errors.New("parse failed")

	// ErrInvalidContent indicates the content cannot be decoded as UTF-8 text.
	ErrInvalidContent = errors.New("invalid content")

	// ErrFileTooLarge indicates the content exceeds the configured size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrUnsupportedLanguage indicates a file extension no walker handles.
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

// ParseError provides the location of a syntax failure.
//
// ParseError always unwraps to ErrParseFailed so callers can match the
// category with errors.Is and the detail with errors.As.
//
// Example:
//
//	res, err := walker.Walk(ctx, content, "app.py")
//	var perr *ParseError
//	if errors.As(err, &perr) {
//	    fmt.Printf("syntax error at %d:%d\n", perr.Line, perr.Column)
//	}
type ParseError struct {
	// FilePath is the path of the file that failed to parse.
	FilePath string

	// Line is the 1-indexed line of the first error. 0 if unknown.
	Line int

	// Column is the 1-indexed column of the first error. 0 if unknown.
	Column int

	// Message describes the failure.
	Message string
}

// Error formats the failure as "file:line:col: message", dropping the
// position parts that are unknown.
func (e *ParseError) Error() string {
	if e.Line > 0 && e.Column > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.FilePath, e.Line, e.Column, e.Message)
	}
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.FilePath, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.FilePath, e.Message)
}

// Unwrap returns ErrParseFailed.
func (e *ParseError) Unwrap() error {
	return ErrParseFailed
}

// NewParseError creates a ParseError with the given position.
//
// Inputs:
//   - filePath: Path of the failing file.
//   - line: 1-indexed line (0 if unknown).
//   - column: 1-indexed column (0 if unknown).
//   - message: Human-readable description.
func NewParseError(filePath string, line, column int, message string) *ParseError {
	return &ParseError{
		FilePath: filePath,
		Line:     line,
		Column:   column,
		Message:  message,
	}
}

// IsParseError reports whether err is or wraps a *ParseError.
func IsParseError(err error) bool {
	var perr *ParseError
	return errors.As(err, &perr)
}
