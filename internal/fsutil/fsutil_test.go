// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fsutil

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Informe Semanal", "Informe Semanal"},
		{"Serie: T1 Ep. 2", "Serie, T1 Ep. 2"},
		{"Espera...", "Espera…"},
		{"Fin… o no", "Fin… o no"},
		{"¿Qué? ¡Sí!", "Qué ¡Sí!"},
		{"a/b\\c*d  ", "abcd"},
		{"Cine   ", "Cine"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SafeFilename(tt.in), tt.in)
	}
}

func TestWriteJSON_CreatesParentAndReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data.json")

	require.NoError(t, WriteJSON(path, map[string]int{"b": 2, "a": 1}))
	require.NoError(t, WriteJSON(path, map[string]int{"c": 3}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]int
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, map[string]int{"c": 3}, got)
	assert.True(t, Exists(path))
}

func TestWriteAtomic_ErrorLeavesOriginal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keep.txt")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

	err := WriteAtomic(path, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return errors.New("boom")
	})
	require.Error(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(raw))
}
