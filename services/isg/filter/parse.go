// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package filter parses and evaluates the entity filter language.
//
// # Grammar
//
//	filter  := "ALL" | "" | clause { ";" clause }
//	clause  := atom { "," atom }
//	atom    := field op literal
//	op      := "=" | "!=" | "~"
//	literal := 'quoted' | "quoted" | word | number | true | false | None | null
//
// ';' separates alternatives (OR) and ',' joins atoms (AND). There is no
// other precedence and no grouping.
//
// '=' and '!=' are exact match. '~' is case-sensitive substring containment.
// None (or null) matches an absent optional field.
//
// # Errors
//
// Parse never returns a partial predicate. Unknown fields, missing operators,
// bad literals and stray separators yield *MalformedFilterError naming the
// offending token.
package filter

import "strings"

// Parse turns filter text into a Predicate.
func Parse(text string) (Predicate, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || strings.EqualFold(trimmed, "ALL") {
		return All{}, nil
	}

	toks, err := lex(text)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	return p.parse()
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level constants.
func MustParse(text string) Predicate {
	p, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return p
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) parse() (Predicate, error) {
	var clauses []Predicate
	for {
		clause, err := p.parseClause()
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)

		t := p.next()
		switch t.kind {
		case tokEOF:
			if len(clauses) == 1 {
				return clauses[0], nil
			}
			return Or{Terms: clauses}, nil
		case tokSemi:
			continue
		default:
			return nil, malformed(t, "expected ',' or ';'")
		}
	}
}

func (p *parser) parseClause() (Predicate, error) {
	var atoms []Predicate
	for {
		a, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		atoms = append(atoms, a)

		if p.peek().kind != tokComma {
			break
		}
		p.next()
	}
	if len(atoms) == 1 {
		return atoms[0], nil
	}
	return And{Terms: atoms}, nil
}

func (p *parser) parseAtom() (*Atom, error) {
	fieldTok := p.next()
	if fieldTok.kind != tokWord {
		return nil, malformed(fieldTok, "expected field name, got %s", fieldTok.kind)
	}
	if strings.EqualFold(fieldTok.text, "ALL") {
		return nil, malformed(fieldTok, "ALL cannot be combined with other clauses")
	}
	if _, ok := lookupField(fieldTok.text); !ok {
		return nil, malformed(fieldTok, "unknown field %q", fieldTok.text)
	}

	opTok := p.next()
	if !opTok.isOp() {
		return nil, malformed(opTok, "expected '=', '!=' or '~' after %s", fieldTok.text)
	}
	var op Op
	switch opTok.kind {
	case tokEq:
		op = OpEq
	case tokNeq:
		op = OpNeq
	default:
		op = OpContains
	}

	litTok := p.next()
	if litTok.kind != tokWord && litTok.kind != tokString {
		return nil, malformed(litTok, "expected literal after %s %s", fieldTok.text, opTok.text)
	}

	return newAtom(fieldTok, opTok, op, litTok)
}
