// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package keys

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "src/main.rs", "src_main_rs"},
		{"leading dot slash", "./src/lib.rs", "src_lib_rs"},
		{"windows separators", `src\util\mod.rs`, "src_util_mod_rs"},
		{"dashes", "my-crate/a-b.go", "my_crate_a_b_go"},
		{"absolute", "/abs/x.py", "_abs_x_py"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizePath(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitizePath_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "../etc/passwd", "a/../b", "a\x00b", "./", "///"} {
		t.Run(in, func(t *testing.T) {
			_, err := SanitizePath(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidPath))

			var ipe *InvalidPathError
			require.True(t, errors.As(err, &ipe))
			assert.Equal(t, in, ipe.Path)
			assert.NotEmpty(t, ipe.Reason)
		})
	}
}

func TestDerive(t *testing.T) {
	key, err := Derive("", "fn", "main", "src/main.rs", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, "rust:fn:main:src_main_rs:1-10", key)

	t.Run("deterministic", func(t *testing.T) {
		again, err := Derive("", "fn", "main", "src/main.rs", 1, 10)
		require.NoError(t, err)
		assert.Equal(t, key, again)
	})

	t.Run("line shift changes key", func(t *testing.T) {
		shifted, err := Derive("", "fn", "main", "src/main.rs", 2, 11)
		require.NoError(t, err)
		assert.NotEqual(t, key, shifted)
	})

	t.Run("explicit language wins", func(t *testing.T) {
		k, err := Derive("go", "fn", "main", "weird.ext", 3, 4)
		require.NoError(t, err)
		assert.Equal(t, "go:fn:main:weird_ext:3-4", k)
	})

	t.Run("rust path names are escaped", func(t *testing.T) {
		k, err := Derive("rust", "method", "Foo::bar", "src/a.rs", 5, 9)
		require.NoError(t, err)
		assert.Equal(t, "rust:method:Foo__bar:src_a_rs:5-9", k)
		parts, err := Parse(k)
		require.NoError(t, err)
		assert.Equal(t, "Foo__bar", parts.Name)
	})
}

func TestDerive_Errors(t *testing.T) {
	_, err := Derive("rust", "fn", "main", "", 1, 2)
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = Derive("rust", "", "main", "a.rs", 1, 2)
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = Derive("rust", "fn", "  ", "a.rs", 1, 2)
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = Derive("rust", "fn", "main", "a.rs", 10, 2)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestFuture(t *testing.T) {
	k1, err := Future("src/new.rs", "helper", "fn", "fn helper() {}")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(k1, "src_new_rs-helper-fn-"))
	assert.Len(t, strings.TrimPrefix(k1, "src_new_rs-helper-fn-"), 8)

	k2, err := Future("src/new.rs", "helper", "fn", "fn helper() {}")
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := Future("src/new.rs", "helper", "fn", "fn helper() { 1 }")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	_, err = Future("", "helper", "fn", "x")
	assert.ErrorIs(t, err, ErrInvalidPath)

	require.NoError(t, Validate(k1))
}

func TestParse(t *testing.T) {
	parts, err := Parse("python:class:Widget:pkg_widget_py:12-40")
	require.NoError(t, err)
	assert.Equal(t, Parts{
		Language: "python", Kind: "class", Name: "Widget",
		Path: "pkg_widget_py", LineStart: 12, LineEnd: 40,
	}, parts)

	for _, bad := range []string{"e1", "a:b:c:d", "a:b:c:d:1", "a:b:c:d:x-2", "a::c:d:1-2"} {
		_, err := Parse(bad)
		assert.ErrorIs(t, err, ErrInvalidKey, bad)
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("e1"))
	assert.NoError(t, Validate("rust:fn:main:src_main_rs:1-10"))

	for _, bad := range []string{"", "a b", "a\tb", "a\nb", "a,b", "k\xffa"} {
		assert.ErrorIs(t, Validate(bad), ErrInvalidKey, bad)
	}
}

func TestLanguageFor(t *testing.T) {
	assert.Equal(t, "rust", LanguageFor("src/main.rs"))
	assert.Equal(t, "go", LanguageFor("cmd/x/MAIN.GO"))
	assert.Equal(t, "typescript", LanguageFor(`web\app.tsx`))
	assert.Equal(t, UnknownLanguage, LanguageFor("Makefile"))
}
