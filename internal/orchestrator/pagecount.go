package orchestrator

import (
    "context"
    "errors"
    "fmt"
    "io"
    "net/http"
    "os"
    "path/filepath"
    "strings"
    "time"

    fitz "github.com/gen2brain/go-fitz"
    "github.com/pdfcpu/pdfcpu/pkg/api"
    "github.com/rs/zerolog/log"

    "github.com/local/rangeplanner/internal/filetype"
    "github.com/local/rangeplanner/internal/storage"
)

// Temp file prefixes owned by this package; see CleanupTemps.
const (
    httpTempPrefix = "docdl-"
    s3TempPrefix   = "s3doc-"
)

var ErrUnsupportedType = errors.New("unsupported document type")

// PageCounter reports how many pages the document behind ref has.
type PageCounter interface {
    Count(ctx context.Context, ref string) (int, error)
}

// ObjectDownloader fetches s3 objects; satisfied by *storage.S3Client.
type ObjectDownloader interface {
    Download(ctx context.Context, bucket, key string, w io.WriterAt) (int64, error)
}

// DocumentPageCounter resolves a reference to a local file and counts its
// pages. Supports:
// - file://path or absolute/relative filesystem paths
// - http(s):// URLs (downloads to temp)
// - s3://bucket/key (downloads to temp via the s3 manager)
type DocumentPageCounter struct {
    http     *http.Client
    s3       ObjectDownloader
    detector *filetype.Detector
}

func NewPageCounter(s3 ObjectDownloader, timeout time.Duration) *DocumentPageCounter {
    if timeout <= 0 { timeout = 60 * time.Second }
    return &DocumentPageCounter{http: &http.Client{Timeout: timeout}, s3: s3, detector: filetype.New()}
}

func (c *DocumentPageCounter) Count(ctx context.Context, ref string) (int, error) {
    localPath, tmp, err := c.localCopy(ctx, ref)
    if err != nil { return 0, err }
    if tmp != "" { defer os.Remove(tmp) }

    info, err := c.detector.Detect(localPath)
    if err != nil { return 0, err }
    if !info.Supported { return 0, fmt.Errorf("%w: %s", ErrUnsupportedType, info.MIMEType) }

    if info.IsPDF {
        n, err := api.PageCountFile(localPath)
        if err == nil { return n, nil }
        // pdfcpu is strict about damaged xref tables; MuPDF usually repairs them
        log.Warn().Err(err).Str("file", filepath.Base(localPath)).Msg("pdfcpu page count failed; trying mupdf")
    }
    return fitzPageCount(localPath)
}

func fitzPageCount(path string) (int, error) {
    doc, err := fitz.New(path)
    if err != nil { return 0, fmt.Errorf("open document: %w", err) }
    defer doc.Close()
    return doc.NumPage(), nil
}

// localCopy returns a local path for ref and, when it had to download, the
// temp file to remove afterwards.
func (c *DocumentPageCounter) localCopy(ctx context.Context, ref string) (string, string, error) {
    // Strip optional #page fragment if present
    if i := strings.Index(ref, "#"); i >= 0 { ref = ref[:i] }
    switch {
    case strings.HasPrefix(ref, "s3://"):
        p, err := c.downloadS3ToTemp(ctx, ref)
        return p, p, err
    case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
        p, err := c.downloadHTTPToTemp(ctx, ref)
        return p, p, err
    case strings.HasPrefix(ref, "file://"):
        return strings.TrimPrefix(ref, "file://"), "", nil
    default:
        return ref, "", nil
    }
}

// tempPattern keeps the source extension so MuPDF picks the right handler.
func tempPattern(prefix, ref string) string {
    ext := strings.ToLower(filepath.Ext(ref))
    if ext == "" || len(ext) > 6 { ext = ".pdf" }
    return prefix + "*" + ext
}

func (c *DocumentPageCounter) downloadHTTPToTemp(ctx context.Context, url string) (string, error) {
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
    if err != nil { return "", err }
    resp, err := c.http.Do(req)
    if err != nil { return "", err }
    defer resp.Body.Close()
    if resp.StatusCode != http.StatusOK { return "", fmt.Errorf("download %s: http %d", url, resp.StatusCode) }
    f, err := os.CreateTemp("", tempPattern(httpTempPrefix, url))
    if err != nil { return "", err }
    defer f.Close()
    if _, err := io.Copy(f, resp.Body); err != nil {
        _ = os.Remove(f.Name())
        return "", err
    }
    return f.Name(), nil
}

func (c *DocumentPageCounter) downloadS3ToTemp(ctx context.Context, s3url string) (string, error) {
    if c.s3 == nil { return "", errors.New("s3 not configured") }
    bucket, key, err := storage.ParseS3URL(s3url)
    if err != nil { return "", err }
    f, err := os.CreateTemp("", tempPattern(s3TempPrefix, key))
    if err != nil { return "", err }
    defer f.Close()
    if _, err := c.s3.Download(ctx, bucket, key, f); err != nil {
        _ = os.Remove(f.Name())
        return "", err
    }
    log.Info().Str("bucket", bucket).Str("key", key).Str("file", filepath.Base(f.Name())).Msg("downloaded s3 document to temp")
    return f.Name(), nil
}
