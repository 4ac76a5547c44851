// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package export

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Tab-delimited layout:
//
//	#isg level=1 generation=3 version=7 filter=<escaped filter>
//	key<TAB>name<TAB>...
//	<row>
//
// An omitted optional is \N. Booleans are 1 or 0. List items are joined
// with ','. An empty list is an empty field and an empty item is \e.
// Backslash, tab, newline and CR are escaped in every field, and ',' is
// escaped inside list items.
const (
	tsvMagic     = "#isg"
	tsvNull      = `\N`
	tsvEmptyItem = `\e`
)

// EncodeTSV renders a document as tab-delimited text.
func EncodeTSV(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s level=%d generation=%d version=%d filter=%s\n",
		tsvMagic, int(doc.Level), doc.Generation, doc.Version, escapeTSV(doc.Filter, false))
	buf.WriteString(strings.Join(doc.ColumnNames(), "\t"))
	buf.WriteByte('\n')

	for ri, r := range doc.Records {
		if len(r.Values) != len(doc.Columns) {
			return nil, fmt.Errorf("%w: record %d has %d values for %d columns",
				ErrSerialization, ri, len(r.Values), len(doc.Columns))
		}
		for ci, c := range doc.Columns {
			if ci > 0 {
				buf.WriteByte('\t')
			}
			v := r.Values[ci]
			if v.Absent {
				buf.WriteString(tsvNull)
				continue
			}
			switch c.Kind {
			case ValueString:
				buf.WriteString(escapeTSV(v.Str, false))
			case ValueInt:
				buf.WriteString(strconv.Itoa(v.Int))
			case ValueBool:
				if v.Bool {
					buf.WriteByte('1')
				} else {
					buf.WriteByte('0')
				}
			case ValueList:
				for i, item := range v.List {
					if i > 0 {
						buf.WriteByte(',')
					}
					if item == "" {
						buf.WriteString(tsvEmptyItem)
						continue
					}
					buf.WriteString(escapeTSV(item, true))
				}
			}
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// DecodeTSV parses the output of EncodeTSV.
func DecodeTSV(data []byte) (*Document, error) {
	lines := strings.Split(string(data), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	if len(lines) < 2 {
		return nil, fmt.Errorf("%w: missing header", ErrSerialization)
	}

	doc := &Document{}
	if err := parseTSVMeta(lines[0], doc); err != nil {
		return nil, err
	}
	cols, err := columnsFromNames(strings.Split(lines[1], "\t"))
	if err != nil {
		return nil, err
	}
	doc.Columns = cols
	doc.Records = make([]Record, 0, len(lines)-2)

	for li, line := range lines[2:] {
		fields := strings.Split(line, "\t")
		if len(fields) != len(cols) {
			return nil, fmt.Errorf("%w: row %d has %d fields for %d columns",
				ErrSerialization, li+1, len(fields), len(cols))
		}
		rec := Record{Values: make([]Value, len(cols))}
		for ci, c := range cols {
			v, err := decodeTSVField(c, fields[ci])
			if err != nil {
				return nil, fmt.Errorf("%w: row %d %s: %v", ErrSerialization, li+1, c.Name, err)
			}
			rec.Values[ci] = v
		}
		doc.Records = append(doc.Records, rec)
	}
	return doc, nil
}

func parseTSVMeta(line string, doc *Document) error {
	rest, ok := strings.CutPrefix(line, tsvMagic+" ")
	if !ok {
		return fmt.Errorf("%w: missing %s line", ErrSerialization, tsvMagic)
	}
	// filter= is last and may contain spaces.
	head, filterText, ok := strings.Cut(rest, " filter=")
	if !ok {
		return fmt.Errorf("%w: missing filter", ErrSerialization)
	}
	f, err := unescapeTSV(filterText, false)
	if err != nil {
		return fmt.Errorf("%w: filter: %v", ErrSerialization, err)
	}
	doc.Filter = f

	for _, kv := range strings.Fields(head) {
		k, v, _ := strings.Cut(kv, "=")
		switch k {
		case "level":
			n, err := strconv.Atoi(v)
			if err != nil || !Level(n).Valid() {
				return fmt.Errorf("%w: level %q", ErrUnknownLevel, v)
			}
			doc.Level = Level(n)
		case "generation":
			if doc.Generation, err = strconv.ParseUint(v, 10, 64); err != nil {
				return fmt.Errorf("%w: generation %q", ErrSerialization, v)
			}
		case "version":
			if doc.Version, err = strconv.ParseUint(v, 10, 64); err != nil {
				return fmt.Errorf("%w: version %q", ErrSerialization, v)
			}
		}
	}
	return nil
}

func decodeTSVField(c Column, field string) (Value, error) {
	if field == tsvNull {
		if !c.Optional {
			return Value{}, fmt.Errorf("null in required column")
		}
		return Value{Absent: true}, nil
	}
	switch c.Kind {
	case ValueInt:
		n, err := strconv.Atoi(field)
		return Value{Int: n}, err
	case ValueBool:
		switch field {
		case "1":
			return Value{Bool: true}, nil
		case "0":
			return Value{Bool: false}, nil
		}
		return Value{}, fmt.Errorf("bad bool %q", field)
	case ValueList:
		items, err := splitList(field)
		return Value{List: items}, err
	default:
		s, err := unescapeTSV(field, false)
		return Value{Str: s}, err
	}
}

func escapeTSV(s string, inList bool) string {
	if !strings.ContainsAny(s, "\\\t\n\r,") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			b.WriteString(`\\`)
		case '\t':
			b.WriteString(`\t`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case ',':
			if inList {
				b.WriteString(`\,`)
			} else {
				b.WriteByte(c)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func unescapeTSV(s string, inList bool) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i == len(s) {
			return "", fmt.Errorf("trailing backslash")
		}
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 't':
			b.WriteByte('\t')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case ',':
			if !inList {
				return "", fmt.Errorf(`unexpected \, outside a list`)
			}
			b.WriteByte(',')
		default:
			return "", fmt.Errorf(`unknown escape \%c`, s[i])
		}
	}
	return b.String(), nil
}

// splitList splits on unescaped ',' and unescapes each item.
func splitList(field string) ([]string, error) {
	if field == "" {
		return []string{}, nil
	}
	var items []string
	start := 0
	for i := 0; i < len(field); i++ {
		switch field[i] {
		case '\\':
			i++
		case ',':
			item, err := unescapeListItem(field[start:i])
			if err != nil {
				return nil, err
			}
			items = append(items, item)
			start = i + 1
		}
	}
	item, err := unescapeListItem(field[start:])
	if err != nil {
		return nil, err
	}
	return append(items, item), nil
}

func unescapeListItem(raw string) (string, error) {
	switch raw {
	case tsvEmptyItem:
		return "", nil
	case "":
		return "", fmt.Errorf("bare empty list item")
	}
	return unescapeTSV(raw, true)
}
