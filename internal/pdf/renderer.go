package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// Renderer rasterises PDF pages to JPEG via poppler's pdftoppm, with pdfcpu
// supplying document info. Callers render in bounded page windows and drop
// the returned buffers between windows; the renderer itself holds nothing.
type Renderer struct {
	DPI int
}

func NewRenderer(dpi int) *Renderer {
	if dpi <= 0 {
		dpi = 120
	}
	return &Renderer{DPI: dpi}
}

// PageCount reports the number of pages. Callers treat an error as "unknown
// count" and render windows until one comes back empty.
func PageCount(path string) (int, error) {
	count, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("page count for %s: %w", filepath.Base(path), err)
	}
	return count, nil
}

// PageCount satisfies the worker's renderer contract.
func (r *Renderer) PageCount(path string) (int, error) {
	return PageCount(path)
}

// RenderRange renders pages [first, last] as JPEG bytes, in page order. A
// range entirely past the end of the document yields an empty slice and no
// error, which is how unknown-count rendering terminates.
func (r *Renderer) RenderRange(ctx context.Context, path string, first, last int) ([][]byte, error) {
	if first < 1 || last < first {
		return nil, fmt.Errorf("invalid page range %d-%d", first, last)
	}

	tmpDir, err := os.MkdirTemp("", "slide-render-*")
	if err != nil {
		return nil, fmt.Errorf("create render dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	prefix := filepath.Join(tmpDir, "page")
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-jpeg",
		"-r", strconv.Itoa(r.DPI),
		"-f", strconv.Itoa(first),
		"-l", strconv.Itoa(last),
		path, prefix,
	)
	output, runErr := cmd.CombinedOutput()

	names, err := orderedPageFiles(tmpDir, "page")
	if err != nil {
		return nil, err
	}

	if len(names) == 0 {
		// pdftoppm fails on a range past the last page; past page 1 that is
		// the normal end-of-document signal.
		if runErr != nil && first > 1 {
			return nil, nil
		}
		if runErr != nil {
			return nil, fmt.Errorf("pdftoppm %s pages %d-%d: %v: %s",
				filepath.Base(path), first, last, runErr, strings.TrimSpace(string(output)))
		}
		return nil, nil
	}

	pages := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(tmpDir, name))
		if err != nil {
			return nil, fmt.Errorf("read rendered page %s: %w", name, err)
		}
		pages = append(pages, data)
	}
	return pages, nil
}

// RenderPage renders a single page.
func (r *Renderer) RenderPage(ctx context.Context, path string, page int) ([]byte, error) {
	pages, err := r.RenderRange(ctx, path, page, page)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("page %d not rendered", page)
	}
	return pages[0], nil
}

// ImageSize decodes just the header of an encoded image and returns its
// pixel dimensions. Used for the orientation gate.
func ImageSize(data []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("decode image config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// orderedPageFiles lists pdftoppm output files for prefix in page order.
// pdftoppm zero-pads page numbers within one invocation, so lexical order
// equals page order.
func orderedPageFiles(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read render dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix+"-") && strings.HasSuffix(name, ".jpg") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
