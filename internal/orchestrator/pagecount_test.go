package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
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

// minimalPDF builds an uncompressed PDF with the given number of blank pages
// and a correct cross-reference table.
func minimalPDF(pages int) []byte {
	var b bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, b.Len())
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}
	b.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	for i := 0; i < pages; i++ {
		obj("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>")
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, o := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", o)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return b.Bytes()
}

type fakeDownloader struct {
	objects map[string][]byte
	calls   []string
}

func (f *fakeDownloader) Download(_ context.Context, bucket, key string, w io.WriterAt) (int64, error) {
	f.calls = append(f.calls, bucket+"/"+key)
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return 0, errors.New("NoSuchKey")
	}
	n, err := w.WriteAt(data, 0)
	return int64(n), err
}

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestCountLocalPDF(t *testing.T) {
	p := writeTemp(t, "three.pdf", minimalPDF(3))
	c := NewPageCounter(nil, time.Second)

	n, err := c.Count(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = c.Count(context.Background(), "file://"+p+"#page=2")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestCountRejectsUnsupported(t *testing.T) {
	c := NewPageCounter(nil, time.Second)
	p := writeTemp(t, "notes.txt", []byte("just some text\n"))
	_, err := c.Count(context.Background(), p)
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = c.Count(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
}

func TestCountHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/docs/five.pdf" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(minimalPDF(5))
	}))
	defer srv.Close()
	c := NewPageCounter(nil, 5*time.Second)

	n, err := c.Count(context.Background(), srv.URL+"/docs/five.pdf")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = c.Count(context.Background(), srv.URL+"/docs/gone.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 404")
}

func TestCountS3(t *testing.T) {
	dl := &fakeDownloader{objects: map[string][]byte{"docs/in/two.pdf": minimalPDF(2)}}
	c := NewPageCounter(dl, time.Second)

	n, err := c.Count(context.Background(), "s3://docs/in/two.pdf")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"docs/in/two.pdf"}, dl.calls)

	_, err = c.Count(context.Background(), "s3://docs/missing.pdf")
	assert.Error(t, err)

	_, err = NewPageCounter(nil, time.Second).Count(context.Background(), "s3://docs/in/two.pdf")
	assert.EqualError(t, err, "s3 not configured")
}

func TestTempPattern(t *testing.T) {
	assert.Equal(t, "s3doc-*.epub", tempPattern(s3TempPrefix, "books/a.EPUB"))
	assert.Equal(t, "docdl-*.pdf", tempPattern(httpTempPrefix, "https://x/download"))
}

func TestCleanupDir(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	old := now.Add(-3 * time.Hour)
	for _, name := range []string{"docdl-1.pdf", "s3doc-2.pdf", "other-3.pdf", "docdl-fresh.pdf"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
		if name != "docdl-fresh.pdf" {
			require.NoError(t, os.Chtimes(p, old, old))
		}
	}

	assert.Equal(t, 2, cleanupDir(dir, time.Hour, now))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var left []string
	for _, e := range entries {
		left = append(left, e.Name())
	}
	assert.ElementsMatch(t, []string{"other-3.pdf", "docdl-fresh.pdf"}, left)
}
