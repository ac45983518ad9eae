package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"kpc/logger"
)

// Tesseract runs the tesseract CLI, reading the image from stdin
type Tesseract struct {
	path         string
	lang         string
	fallbackLang string
	psm          int
	oem          int
	timeout      time.Duration
	log          *logger.Logger
}

// NewTesseract verifies the binary and returns a CLI-backed engine
func NewTesseract(path, lang, fallbackLang string, psm, oem int, timeout time.Duration, log *logger.Logger) (*Tesseract, error) {
	if path == "" {
		path = "tesseract"
	}
	if _, err := exec.LookPath(path); err != nil {
		return nil, fmt.Errorf("missing required binary %q: %w", path, err)
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Tesseract{
		path:         path,
		lang:         lang,
		fallbackLang: fallbackLang,
		psm:          psm,
		oem:          oem,
		timeout:      timeout,
		log:          log.With("service", "ocr.Tesseract"),
	}, nil
}

// Name identifies the backend
func (t *Tesseract) Name() string { return "tesseract" }

// Recognize tries the primary language set and retries once with the fallback set
func (t *Tesseract) Recognize(ctx context.Context, image []byte) (string, error) {
	text, err := t.run(ctx, image, t.lang)
	if err == nil || t.fallbackLang == "" || t.fallbackLang == t.lang {
		return text, err
	}
	t.log.Warn("tesseract failed, retrying with fallback language", "lang", t.lang, "fallback", t.fallbackLang, "error", err)
	return t.run(ctx, image, t.fallbackLang)
}

func (t *Tesseract) run(ctx context.Context, image []byte, lang string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.path, tesseractArgs(lang, t.psm, t.oem)...)
	cmd.Stdin = bytes.NewReader(image)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if s := strings.TrimSpace(stderr.String()); s != "" {
			return "", fmt.Errorf("tesseract: %w; stderr=%s", err, s)
		}
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return stdout.String(), nil
}

func tesseractArgs(lang string, psm, oem int) []string {
	args := []string{"stdin", "stdout"}
	if lang != "" {
		args = append(args, "-l", lang)
	}
	if psm > 0 {
		args = append(args, "--psm", strconv.Itoa(psm))
	}
	if oem >= 0 {
		args = append(args, "--oem", strconv.Itoa(oem))
	}
	return args
}
