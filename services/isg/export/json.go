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
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf8"
)

// EncodeJSON renders a document as a single JSON object.
//
// Keys appear in schema order and omitted optionals are left out, so the
// output is byte-for-byte stable for the same document. Strings that are
// not valid UTF-8 are rejected rather than rewritten to U+FFFD.
func EncodeJSON(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	writeStr := func(s string) error {
		if !utf8.ValidString(s) {
			return fmt.Errorf("invalid UTF-8 in %q", s)
		}
		if err := enc.Encode(s); err != nil {
			return err
		}
		buf.Truncate(buf.Len() - 1) // Encode appends '\n'
		return nil
	}

	buf.WriteString(`{"level":`)
	buf.WriteString(strconv.Itoa(int(doc.Level)))
	buf.WriteString(`,"generation":`)
	buf.WriteString(strconv.FormatUint(doc.Generation, 10))
	buf.WriteString(`,"version":`)
	buf.WriteString(strconv.FormatUint(doc.Version, 10))
	buf.WriteString(`,"filter":`)
	if err := writeStr(doc.Filter); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	buf.WriteString(`,"columns":[`)
	for i, c := range doc.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeStr(c.Name); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
		}
	}
	buf.WriteString(`],"records":[`)

	for ri, r := range doc.Records {
		if len(r.Values) != len(doc.Columns) {
			return nil, fmt.Errorf("%w: record %d has %d values for %d columns",
				ErrSerialization, ri, len(r.Values), len(doc.Columns))
		}
		if ri > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString("\n{")
		first := true
		for ci, c := range doc.Columns {
			v := r.Values[ci]
			if v.Absent {
				continue
			}
			if !first {
				buf.WriteByte(',')
			}
			first = false
			if err := writeStr(c.Name); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
			}
			buf.WriteByte(':')
			switch c.Kind {
			case ValueString:
				if err := writeStr(v.Str); err != nil {
					return nil, fmt.Errorf("%w: %s: %v", ErrSerialization, c.Name, err)
				}
			case ValueInt:
				buf.WriteString(strconv.Itoa(v.Int))
			case ValueBool:
				buf.WriteString(strconv.FormatBool(v.Bool))
			case ValueList:
				buf.WriteByte('[')
				for i, item := range v.List {
					if i > 0 {
						buf.WriteByte(',')
					}
					if err := writeStr(item); err != nil {
						return nil, fmt.Errorf("%w: %s: %v", ErrSerialization, c.Name, err)
					}
				}
				buf.WriteByte(']')
			}
		}
		buf.WriteByte('}')
	}
	buf.WriteString("]}\n")
	return buf.Bytes(), nil
}

type jsonDocument struct {
	Level      int                          `json:"level"`
	Generation uint64                       `json:"generation"`
	Version    uint64                       `json:"version"`
	Filter     string                       `json:"filter"`
	Columns    []string                     `json:"columns"`
	Records    []map[string]json.RawMessage `json:"records"`
}

// DecodeJSON parses the output of EncodeJSON.
func DecodeJSON(data []byte) (*Document, error) {
	var raw jsonDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if !Level(raw.Level).Valid() {
		return nil, fmt.Errorf("%w: level %d", ErrUnknownLevel, raw.Level)
	}
	cols, err := columnsFromNames(raw.Columns)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Level:      Level(raw.Level),
		Generation: raw.Generation,
		Version:    raw.Version,
		Filter:     raw.Filter,
		Columns:    cols,
		Records:    make([]Record, 0, len(raw.Records)),
	}
	for ri, obj := range raw.Records {
		rec := Record{Values: make([]Value, len(cols))}
		for ci, c := range cols {
			msg, ok := obj[c.Name]
			if !ok {
				if !c.Optional {
					return nil, fmt.Errorf("%w: record %d missing %s", ErrSerialization, ri, c.Name)
				}
				rec.Values[ci] = Value{Absent: true}
				continue
			}
			v, err := decodeJSONValue(c, msg)
			if err != nil {
				return nil, fmt.Errorf("%w: record %d %s: %v", ErrSerialization, ri, c.Name, err)
			}
			rec.Values[ci] = v
		}
		doc.Records = append(doc.Records, rec)
	}
	return doc, nil
}

func decodeJSONValue(c Column, msg json.RawMessage) (Value, error) {
	var v Value
	var err error
	switch c.Kind {
	case ValueString:
		err = json.Unmarshal(msg, &v.Str)
	case ValueInt:
		err = json.Unmarshal(msg, &v.Int)
	case ValueBool:
		err = json.Unmarshal(msg, &v.Bool)
	case ValueList:
		err = json.Unmarshal(msg, &v.List)
		if v.List == nil {
			v.List = []string{}
		}
	}
	return v, err
}
