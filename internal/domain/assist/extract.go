package assist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// textExtensions are read directly without OCR.
var textExtensions = map[string]bool{
	".md": true, ".txt": true, ".csv": true, ".json": true, ".yaml": true, ".yml": true,
}

// ocrExtensions go through the OCR command with a CLI fallback.
var ocrExtensions = map[string]bool{
	".pdf": true, ".png": true, ".jpg": true, ".jpeg": true,
	".tif": true, ".tiff": true, ".bmp": true, ".webp": true,
}

// SupportedExtension reports whether any extractor can handle the file.
func SupportedExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return textExtensions[ext] || ocrExtensions[ext]
}

// Extractor turns an uploaded report into plain text. The OCR command is
// external and replaceable; pdftotext and tesseract act as fallbacks when it
// is unavailable or fails.
type Extractor struct {
	command  string
	timeout  time.Duration
	maxChars int

	// Some OCR builds take the output directory positionally instead of via
	// --output_dir. The working mode is remembered after the first success.
	mu               sync.Mutex
	markerPositional bool
}

func NewExtractor(command string, timeout time.Duration, maxChars int) *Extractor {
	if strings.TrimSpace(command) == "" {
		command = "marker_single"
	}
	if timeout < 10*time.Second {
		timeout = 10 * time.Second
	}
	if maxChars < 20000 {
		maxChars = 20000
	}
	return &Extractor{command: command, timeout: timeout, maxChars: maxChars}
}

// Extract returns the document text capped at maxChars plus the name of the
// extractor that produced it.
func (x *Extractor) Extract(ctx context.Context, path string) (string, string, error) {
	ext := strings.ToLower(filepath.Ext(path))

	if textExtensions[ext] {
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", "native_text", fmt.Errorf("read text file: %w", err)
		}
		text := strings.TrimSpace(string(raw))
		if text == "" {
			return "", "native_text", errors.New("text file is empty")
		}
		return x.cap(text), "native_text", nil
	}

	if ocrExtensions[ext] {
		text, markerErr := x.runOCRCommand(ctx, path)
		if markerErr == nil {
			return x.cap(text), "marker", nil
		}

		if ext == ".pdf" {
			fallback, fallbackErr := runPdftotext(ctx, x.timeout, path)
			if fallbackErr == nil {
				return x.cap(fallback), "pdftotext", nil
			}
			return "", "marker", fmt.Errorf("%v; %v", markerErr, fallbackErr)
		}

		fallback, fallbackErr := runTesseract(ctx, x.timeout, path)
		if fallbackErr == nil {
			return x.cap(fallback), "tesseract", nil
		}
		return "", "marker", fmt.Errorf("%v; %v", markerErr, fallbackErr)
	}

	return "", "unsupported", fmt.Errorf("unsupported file extension: %s", ext)
}

func (x *Extractor) cap(text string) string {
	if len(text) > x.maxChars {
		return text[:x.maxChars]
	}
	return text
}

func (x *Extractor) runOCRCommand(ctx context.Context, path string) (string, error) {
	parts := strings.Fields(x.command)
	binary, err := exec.LookPath(parts[0])
	if err != nil {
		return "", fmt.Errorf("ocr command not available: %s", parts[0])
	}

	outputDir, err := os.MkdirTemp("", "ocr_extract_")
	if err != nil {
		return "", fmt.Errorf("create ocr output dir: %w", err)
	}
	defer os.RemoveAll(outputDir)

	x.mu.Lock()
	positional := x.markerPositional
	x.mu.Unlock()

	args := append(append([]string{}, parts[1:]...), path)
	if positional {
		args = append(args, outputDir)
	} else {
		args = append(args, "--output_dir", outputDir)
	}

	if runErr := runCommand(ctx, x.timeout, binary, args...); runErr != nil {
		if positional {
			return "", runErr
		}
		// Retry once in positional mode before giving up.
		retryArgs := append(append([]string{}, parts[1:]...), path, outputDir)
		if retryErr := runCommand(ctx, x.timeout, binary, retryArgs...); retryErr != nil {
			return "", runErr
		}
		x.mu.Lock()
		x.markerPositional = true
		x.mu.Unlock()
	}

	text, err := readOCROutput(outputDir)
	if err != nil {
		return "", err
	}
	return text, nil
}

func runCommand(ctx context.Context, timeout time.Duration, binary string, args ...string) error {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		message := strings.TrimSpace(stderr.String())
		if message == "" {
			message = err.Error()
		}
		return fmt.Errorf("%s failed: %s", filepath.Base(binary), message)
	}
	return nil
}

// readOCROutput concatenates the markdown and text files the OCR command left
// in its output directory.
func readOCROutput(outputDir string) (string, error) {
	var files []string
	err := filepath.WalkDir(outputDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".md" || ext == ".txt" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan ocr output: %w", err)
	}
	sort.Strings(files)

	var parts []string
	for _, file := range files {
		raw, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "", errors.New("ocr command produced no text output")
	}
	return strings.Join(parts, "\n\n"), nil
}

func runPdftotext(ctx context.Context, timeout time.Duration, path string) (string, error) {
	binary, err := exec.LookPath("pdftotext")
	if err != nil {
		return "", errors.New("pdftotext command not available")
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, binary, "-layout", path, "-")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		message := strings.TrimSpace(stderr.String())
		if message == "" {
			message = err.Error()
		}
		return "", fmt.Errorf("pdftotext failed: %s", message)
	}

	text := strings.TrimSpace(stdout.String())
	if text == "" {
		return "", errors.New("pdftotext produced empty output")
	}
	return text, nil
}

func runTesseract(ctx context.Context, timeout time.Duration, path string) (string, error) {
	binary, err := exec.LookPath("tesseract")
	if err != nil {
		return "", errors.New("tesseract command not available")
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, binary, path, "stdout")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		message := strings.TrimSpace(stderr.String())
		if message == "" {
			message = err.Error()
		}
		return "", fmt.Errorf("tesseract failed: %s", message)
	}

	text := strings.TrimSpace(stdout.String())
	if text == "" {
		return "", errors.New("tesseract produced empty output")
	}
	return text, nil
}
