// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fsutil

import (
	"strings"
	"unicode"

	unorm "golang.org/x/text/unicode/norm"
)

const keepCharacters = " ,._-¡!…"

// SafeFilename turns a programme title into a filename component.
// Colons become commas, "..." becomes an ellipsis and anything that is not a
// letter, digit or one of keepCharacters is dropped.
func SafeFilename(name string) string {
	// Compose first so accented titles keep their letters.
	name = unorm.NFC.String(name)
	name = strings.ReplaceAll(name, ":", ",")
	name = strings.ReplaceAll(name, "...", "…")

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune(keepCharacters, r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimRightFunc(b.String(), unicode.IsSpace)
}
