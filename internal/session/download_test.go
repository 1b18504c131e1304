// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveFile(t *testing.T, disposition, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if disposition != "" {
			w.Header().Set("Content-Disposition", disposition)
		}
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch_FilenameFromHeader(t *testing.T) {
	srv := serveFile(t, `attachment; filename="report.csv"`, "a,b\n1,2\n", http.StatusOK)
	dir := t.TempDir()

	name, err := Fetch(context.Background(), srv.URL+"/download", dir, 5*time.Second, true)
	require.NoError(t, err)
	assert.Equal(t, "report.csv", name)

	data, err := os.ReadFile(filepath.Join(dir, "report.csv"))
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))
}

func TestFetch_RFC5987Filename(t *testing.T) {
	srv := serveFile(t, "attachment; filename*=UTF-8''sales%20data.csv", "x", http.StatusOK)
	dir := t.TempDir()

	name, err := Fetch(context.Background(), srv.URL, dir, 5*time.Second, true)
	require.NoError(t, err)
	assert.Equal(t, "sales data.csv", name)
}

func TestFetch_FilenameStarTakesPrecedence(t *testing.T) {
	srv := serveFile(t, `attachment; filename="plain.csv"; filename*=UTF-8''extended.csv`, "x", http.StatusOK)
	dir := t.TempDir()

	name, err := Fetch(context.Background(), srv.URL, dir, 5*time.Second, true)
	require.NoError(t, err)
	assert.Equal(t, "extended.csv", name)
}

func TestFetch_NoFilename(t *testing.T) {
	srv := serveFile(t, "", "body", http.StatusOK)
	dir := t.TempDir()

	_, err := Fetch(context.Background(), srv.URL, dir, 5*time.Second, true)
	require.ErrorIs(t, err, ErrNoFilename)

	// Nothing may be left on disk.
	entries, rerr := os.ReadDir(dir)
	require.NoError(t, rerr)
	assert.Empty(t, entries)
}

func TestFetch_HTTPError(t *testing.T) {
	srv := serveFile(t, `attachment; filename="x.csv"`, "gone", http.StatusNotFound)
	dir := t.TempDir()

	_, err := Fetch(context.Background(), srv.URL, dir, 5*time.Second, true)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "HTTP 404: failed to download "), err.Error())

	entries, rerr := os.ReadDir(dir)
	require.NoError(t, rerr)
	assert.Empty(t, entries)
}

func TestFetch_LargeBodyCopiedThroughBuffer(t *testing.T) {
	body := strings.Repeat("0123456789abcdef", 4096) // 64 KiB, several chunks
	srv := serveFile(t, `attachment; filename="big.bin"`, body, http.StatusOK)
	dir := t.TempDir()

	name, err := Fetch(context.Background(), srv.URL, dir, 10*time.Second, true)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
}

func TestFetch_TransportError(t *testing.T) {
	srv := serveFile(t, "", "", http.StatusOK)
	url := srv.URL
	srv.Close()

	_, err := Fetch(context.Background(), url, t.TempDir(), 2*time.Second, true)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "failed to download "), err.Error())
}

func TestFilenameFromHeader(t *testing.T) {
	tests := []struct {
		name        string
		disposition string
		want        string
	}{
		{"quoted", `attachment; filename="a.txt"`, "a.txt"},
		{"unquoted", `attachment; filename=a.txt`, "a.txt"},
		{"extended", `attachment; filename*=UTF-8''a%2Db.txt`, "a-b.txt"},
		{"extended no charset", `attachment; filename*=a.txt`, "a.txt"},
		{"case insensitive", `attachment; FILENAME="a.txt"`, "a.txt"},
		{"missing", `attachment`, ""},
		{"empty", ``, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, filenameFromHeader(tt.disposition))
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"clean", "data.csv", "data.csv"},
		{"empty", "", "unnamed_file"},
		{"separators", "a/b\\c.txt", "a_b_c.txt"},
		{"traversal", "../../etc/passwd", "_.._etc_passwd"},
		{"reserved", `a<b>c:d"e|f?g*h`, "a_b_c_d_e_f_g_h"},
		{"dots and spaces", " .name. ", "name"},
		{"only dots", "...", "unnamed_file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.in))
		})
	}
}

func TestSanitizeFilename_TruncatesKeepingExtension(t *testing.T) {
	long := strings.Repeat("a", 300) + ".csv"
	got := SanitizeFilename(long)
	assert.Len(t, got, 255)
	assert.True(t, strings.HasSuffix(got, ".csv"))
}
