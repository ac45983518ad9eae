package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"kpc/logger"
)

var pageFileRe = regexp.MustCompile(`^page-\d+\.png$`)

// Tools wraps the poppler binaries used for flyers: pdftotext for the
// embedded text layer and pdftoppm for page rasterization
type Tools struct {
	log           *logger.Logger
	pdftotextPath string
	pdftoppmPath  string
	timeout       time.Duration
}

// NewTools creates poppler tooling with the given binary paths
func NewTools(pdftotextPath, pdftoppmPath string, timeout time.Duration, log *logger.Logger) *Tools {
	if pdftotextPath == "" {
		pdftotextPath = "pdftotext"
	}
	if pdftoppmPath == "" {
		pdftoppmPath = "pdftoppm"
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Tools{
		log:           log.With("service", "pdf.Tools"),
		pdftotextPath: pdftotextPath,
		pdftoppmPath:  pdftoppmPath,
		timeout:       timeout,
	}
}

// AssertReady verifies both binaries are callable
func (t *Tools) AssertReady() error {
	for _, bin := range []string{t.pdftotextPath, t.pdftoppmPath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("missing required binary %q: %w", bin, err)
		}
	}
	return nil
}

// ExtractText returns the embedded text layer of a PDF, preserving layout
func (t *Tools) ExtractText(ctx context.Context, data []byte) (string, error) {
	dir, cleanup, err := writeTemp(data)
	if err != nil {
		return "", err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	in := filepath.Join(dir, "in.pdf")
	out := filepath.Join(dir, "out.txt")
	cmd := exec.CommandContext(ctx, t.pdftotextPath, "-enc", "UTF-8", "-layout", "-q", in, out)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if s := strings.TrimSpace(stderr.String()); s != "" {
			return "", fmt.Errorf("pdftotext: %w; stderr=%s", err, s)
		}
		return "", fmt.Errorf("pdftotext: %w", err)
	}

	b, err := os.ReadFile(out)
	if err != nil {
		return "", fmt.Errorf("failed to read pdftotext output: %w", err)
	}
	return string(b), nil
}

// Rasterize renders every page to PNG at the given resolution, in page order
func (t *Tools) Rasterize(ctx context.Context, data []byte, dpi int) ([][]byte, error) {
	if dpi <= 0 {
		dpi = 200
	}
	dir, cleanup, err := writeTemp(data)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	in := filepath.Join(dir, "in.pdf")
	prefix := filepath.Join(dir, "page")
	cmd := exec.CommandContext(ctx, t.pdftoppmPath, "-r", strconv.Itoa(dpi), "-png", in, prefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w; out=%s", err, string(out))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list rendered pages: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && pageFileRe.MatchString(e.Name()) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no images produced by pdftoppm")
	}
	sort.Slice(names, func(i, j int) bool { return pageNumber(names[i]) < pageNumber(names[j]) })

	pages := make([][]byte, 0, len(names))
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read page %s: %w", name, err)
		}
		pages = append(pages, b)
	}
	t.log.Debug("rasterized pdf", "pages", len(pages), "dpi", dpi)
	return pages, nil
}

func pageNumber(name string) int {
	n, _ := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "page-"), ".png"))
	return n
}

func writeTemp(data []byte) (string, func(), error) {
	dir, err := os.MkdirTemp("", "kpc_pdf_*")
	if err != nil {
		return "", func() {}, fmt.Errorf("failed to create temp dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	if err := os.WriteFile(filepath.Join(dir, "in.pdf"), data, 0o644); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("failed to write temp pdf: %w", err)
	}
	return dir, cleanup, nil
}

// IsPDF reports whether data starts with the PDF magic bytes
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data, "\r\n\t "), []byte("%PDF"))
}
