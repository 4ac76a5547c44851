// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package keys derives and validates stable entity identifiers.
//
// Two key shapes exist:
//
//	{lang}:{type}:{name}:{sanitized_path}:{line_start}-{line_end}
//	{sanitized_path}-{name}-{type}-{hash8}
//
// The first (ISGL1) is used for entities discovered by parsing. It is fully
// deterministic: re-parsing an unchanged file reproduces identical keys. The
// line range is part of the key, so moving an entity changes its key.
//
// The second is used for entities that only exist in the future timeline and
// therefore have no on-disk location yet. hash8 is the first eight hex digits
// of a BLAKE3 digest over the path, name, type and content.
//
// All functions in this package are pure and safe for concurrent use.
package keys

import (
	"encoding/hex"
	"fmt"
	"path"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"lukechampine.com/blake3"
)

// Separator joins the ISGL1 key components.
const Separator = ":"

// UnknownLanguage is used when a file extension has no known language.
const UnknownLanguage = "unknown"

// hashLen is the number of hex digits kept from the content hash.
const hashLen = 8

// languageByExt maps lowercase file extensions to language tokens.
var languageByExt = map[string]string{
	".rs":    "rust",
	".go":    "go",
	".py":    "python",
	".ts":    "typescript",
	".tsx":   "typescript",
	".js":    "javascript",
	".jsx":   "javascript",
	".java":  "java",
	".kt":    "kotlin",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".rb":    "ruby",
	".swift": "swift",
	".cs":    "csharp",
	".php":   "php",
	".scala": "scala",
}

// Parts are the components of an ISGL1 key.
type Parts struct {
	Language  string
	Kind      string
	Name      string
	Path      string // sanitized form, not the original path
	LineStart int
	LineEnd   int
}

// LanguageFor returns the language token for a file path based on its
// extension, or UnknownLanguage.
func LanguageFor(filePath string) string {
	ext := strings.ToLower(path.Ext(filepath2slash(filePath)))
	if lang, ok := languageByExt[ext]; ok {
		return lang
	}
	return UnknownLanguage
}

// SanitizePath turns a file path into a key-safe token.
//
// Description:
//
//	Normalizes separators to '/', strips a leading "./", and replaces every
//	rune outside [A-Za-z0-9_] with '_'. "src/main.rs" becomes "src_main_rs".
//
// Errors:
//
//	*InvalidPathError (matches ErrInvalidPath) when the path is empty,
//	contains control characters, contains a ".." segment, or has no
//	alphanumeric content.
func SanitizePath(filePath string) (string, error) {
	p := strings.TrimSpace(filePath)
	if p == "" {
		return "", &InvalidPathError{Path: filePath, Reason: "empty"}
	}
	for _, r := range p {
		if unicode.IsControl(r) {
			return "", &InvalidPathError{Path: filePath, Reason: "contains control characters"}
		}
	}

	p = filepath2slash(p)
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", &InvalidPathError{Path: filePath, Reason: "contains parent directory segment"}
		}
	}
	p = strings.TrimPrefix(p, "./")

	sanitized := sanitizeToken(p)
	if strings.Trim(sanitized, "_") == "" {
		return "", &InvalidPathError{Path: filePath, Reason: "no key-safe characters"}
	}
	return sanitized, nil
}

// Derive builds an ISGL1 key for a parsed entity.
//
// Inputs:
//
//	lang - Language token. Empty means derive from filePath.
//	kind - Entity type token (e.g. "fn", "struct"). Must not be empty.
//	name - Entity name. Separator runs and whitespace are replaced by '_'.
//	filePath - Source path; sanitized with SanitizePath.
//	lineStart, lineEnd - Line range; lineEnd must not be before lineStart.
//
// Outputs:
//
//	string - The key.
//	error - ErrInvalidPath or ErrInvalidKey wrapped with context.
func Derive(lang, kind, name, filePath string, lineStart, lineEnd int) (string, error) {
	sp, err := SanitizePath(filePath)
	if err != nil {
		return "", err
	}
	if lang == "" {
		lang = LanguageFor(filePath)
	}
	lang = sanitizeToken(lang)
	kind = sanitizeToken(kind)
	name = sanitizeName(name)

	if kind == "" {
		return "", fmt.Errorf("%w: empty entity type", ErrInvalidKey)
	}
	if name == "" {
		return "", fmt.Errorf("%w: empty entity name", ErrInvalidKey)
	}
	if lineStart < 0 || lineEnd < lineStart {
		return "", fmt.Errorf("%w: line range %d-%d", ErrInvalidKey, lineStart, lineEnd)
	}

	return strings.Join([]string{
		lang, kind, name, sp,
		strconv.Itoa(lineStart) + "-" + strconv.Itoa(lineEnd),
	}, Separator), nil
}

// Future builds a content-hash key for an entity with no current location.
//
// The same (path, name, kind, content) always yields the same key.
func Future(filePath, name, kind, content string) (string, error) {
	sp, err := SanitizePath(filePath)
	if err != nil {
		return "", err
	}
	kind = sanitizeToken(kind)
	name = sanitizeName(name)
	if kind == "" || name == "" {
		return "", fmt.Errorf("%w: empty name or entity type", ErrInvalidKey)
	}

	h := blake3.New(32, nil)
	// NUL separators keep ("ab","c") and ("a","bc") distinct.
	for _, part := range []string{filePath, name, kind, content} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	digest := hex.EncodeToString(h.Sum(nil))

	return sp + "-" + name + "-" + kind + "-" + digest[:hashLen], nil
}

// Parse splits an ISGL1 key into its components.
//
// Returns ErrInvalidKey if the key does not have the ISGL1 shape. Future keys
// are not parseable; callers should treat the error as "not an ISGL1 key".
func Parse(key string) (Parts, error) {
	fields := strings.Split(key, Separator)
	if len(fields) != 5 {
		return Parts{}, fmt.Errorf("%w: %q is not an ISGL1 key", ErrInvalidKey, key)
	}
	start, end, ok := strings.Cut(fields[4], "-")
	if !ok {
		return Parts{}, fmt.Errorf("%w: %q has no line range", ErrInvalidKey, key)
	}
	ls, err := strconv.Atoi(start)
	if err != nil {
		return Parts{}, fmt.Errorf("%w: line start %q", ErrInvalidKey, start)
	}
	le, err := strconv.Atoi(end)
	if err != nil {
		return Parts{}, fmt.Errorf("%w: line end %q", ErrInvalidKey, end)
	}
	for i := 0; i < 4; i++ {
		if fields[i] == "" {
			return Parts{}, fmt.Errorf("%w: %q has an empty component", ErrInvalidKey, key)
		}
	}
	return Parts{
		Language:  fields[0],
		Kind:      fields[1],
		Name:      fields[2],
		Path:      fields[3],
		LineStart: ls,
		LineEnd:   le,
	}, nil
}

// Validate checks that key is safe to store and export.
//
// A valid key is non-empty and contains no whitespace, no control characters
// and no ',' (the list separator of the tab-delimited export).
func Validate(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if !utf8.ValidString(key) {
		return fmt.Errorf("%w: %q is not valid UTF-8", ErrInvalidKey, key)
	}
	for _, r := range key {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == ',' {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidKey, key, r)
		}
	}
	return nil
}

// sanitizeToken replaces every rune outside [A-Za-z0-9_] with '_'.
func sanitizeToken(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// sanitizeName keeps names readable (Rust paths, generics) while making
// them safe inside a ':'-separated key.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == ':' || r == ',' || r == '-' || unicode.IsSpace(r) || unicode.IsControl(r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func filepath2slash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
