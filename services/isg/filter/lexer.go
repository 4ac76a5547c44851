// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package filter

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord
	tokString
	tokEq
	tokNeq
	tokContains
	tokComma
	tokSemi
)

// String returns the string representation of the tokenKind.
func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokWord:
		return "word"
	case tokString:
		return "quoted string"
	case tokEq:
		return "'='"
	case tokNeq:
		return "'!='"
	case tokContains:
		return "'~'"
	case tokComma:
		return "','"
	case tokSemi:
		return "';'"
	default:
		return "unknown"
	}
}

type token struct {
	kind tokenKind
	text string // raw text for words and operators, unquoted value for strings
	pos  int
}

func (t token) isOp() bool {
	return t.kind == tokEq || t.kind == tokNeq || t.kind == tokContains
}

// lex splits filter text into tokens. Quoted strings may use ' or " and
// support backslash escapes of the quote and backslash.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case r == ',':
			toks = append(toks, token{kind: tokComma, text: ",", pos: i})
			i++
		case r == ';':
			toks = append(toks, token{kind: tokSemi, text: ";", pos: i})
			i++
		case r == '=':
			toks = append(toks, token{kind: tokEq, text: "=", pos: i})
			i++
		case r == '~':
			toks = append(toks, token{kind: tokContains, text: "~", pos: i})
			i++
		case r == '!':
			if i+1 < len(src) && src[i+1] == '=' {
				toks = append(toks, token{kind: tokNeq, text: "!=", pos: i})
				i += 2
				continue
			}
			return nil, &MalformedFilterError{Token: "!", Pos: i, Reason: "expected '!='"}
		case r == '\'' || r == '"':
			tok, next, err := lexString(src, i, byte(r))
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
			i = next
		default:
			start := i
			for i < len(src) {
				r, size = utf8.DecodeRuneInString(src[i:])
				if unicode.IsSpace(r) || strings.ContainsRune(",;=!~'\"", r) {
					break
				}
				i += size
			}
			toks = append(toks, token{kind: tokWord, text: src[start:i], pos: start})
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(src)})
	return toks, nil
}

func lexString(src string, start int, quote byte) (token, int, error) {
	var b strings.Builder
	i := start + 1
	for i < len(src) {
		c := src[i]
		switch {
		case c == '\\' && i+1 < len(src) && (src[i+1] == quote || src[i+1] == '\\'):
			b.WriteByte(src[i+1])
			i += 2
		case c == quote:
			return token{kind: tokString, text: b.String(), pos: start}, i + 1, nil
		default:
			b.WriteByte(c)
			i++
		}
	}
	return token{}, 0, &MalformedFilterError{
		Token:  src[start:],
		Pos:    start,
		Reason: "unterminated quoted string",
	}
}
