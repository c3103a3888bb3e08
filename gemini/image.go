package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// maxFilenameLen is the common filesystem limit for a single path component.
const maxFilenameLen = 255

var reUnsafeFilename = regexp.MustCompile(`[<>:"/\\|?*]`)

// Image is a remote image referenced by a reply: a URL plus display title and
// alt text.
type Image struct {
	URL   string
	Title string
	Alt   string

	// Proxy and Insecure mirror the owning client's transport settings so a
	// detached Image can still be fetched the same way it was found.
	Proxy    ProxyConfig
	Insecure bool
}

func (i Image) String() string {
	short := i.URL
	if len(short) > 50 {
		short = short[:20] + "..." + short[len(short)-20:]
	}
	return fmt.Sprintf("Image(title='%s', alt='%s', url='%s')", i.Title, i.Alt, short)
}

// SaveOptions control Image.Save.
type SaveOptions struct {
	// Dir is the destination directory, created if needed. Defaults to
	// "downloaded_images".
	Dir string
	// Filename overrides the name derived from the URL.
	Filename string
	// Cookies are sent with the download request. Generated-image URLs
	// require the session cookies; web images do not.
	Cookies map[string]string
	// SkipInvalidFilename skips the save (returning an empty path) instead of
	// falling back to a random name when no safe filename can be derived.
	SkipInvalidFilename bool
	Verbose             bool
}

// deriveFilename extracts a filesystem-safe name from the image URL,
// replacing unsafe characters and truncating to the filesystem maximum while
// preserving the extension. Returns "" when nothing usable can be derived.
func deriveFilename(rawURL string) string {
	name := ""
	if u, err := url.Parse(rawURL); err == nil {
		if unescaped, errQ := url.PathUnescape(u.Path); errQ == nil {
			name = filepath.Base(unescaped)
		} else {
			name = filepath.Base(u.Path)
		}
	}
	if name == "." || name == "/" {
		name = ""
	}
	return sanitizeFilename(name)
}

func sanitizeFilename(name string) string {
	name = reUnsafeFilename.ReplaceAllString(name, "_")
	if len(name) > maxFilenameLen {
		ext := filepath.Ext(name)
		if len(ext) >= maxFilenameLen {
			ext = ""
		}
		name = name[:maxFilenameLen-len(ext)] + ext
	}
	return name
}

func fallbackFilename() string {
	return "image_" + uuid.NewString()[:8] + ".jpg"
}

// Save downloads the image and writes it to disk, returning the resolved
// absolute path, or "" when the save was skipped due to an unrecoverable
// filename.
func (i Image) Save(ctx context.Context, opts SaveOptions) (string, error) {
	filename := sanitizeFilename(opts.Filename)
	if filename == "" {
		filename = deriveFilename(i.URL)
	}
	if filename == "" {
		if opts.SkipInvalidFilename {
			if opts.Verbose {
				log.Warnf("skipping save of %s: no usable filename", i.URL)
			}
			return "", nil
		}
		filename = fallbackFilename()
	}

	client := newHTTPClient(httpOptions{
		Proxy:           i.Proxy,
		Insecure:        i.Insecure,
		FollowRedirects: true,
		Timeout:         120 * time.Second,
	})
	rawCookie := buildCookieHeader(opts.Cookies)
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		// Session cookies must survive cross-domain redirect hops.
		if rawCookie != "" {
			req.Header.Set("Cookie", rawCookie)
		}
		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.URL, nil)
	if err != nil {
		return "", err
	}
	if rawCookie != "" {
		req.Header.Set("Cookie", rawCookie)
	}
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return "", &TransportError{Msg: "error downloading image", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", &TransportError{Msg: fmt.Sprintf("error downloading image: %s", resp.Status)}
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "image") {
		log.Warnf("content type of %s is not image, but %s", filename, ct)
	}

	dir := opts.Dir
	if dir == "" {
		dir = "downloaded_images"
	}
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dest := filepath.Join(dir, filename)
	f, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	_, err = io.Copy(f, resp.Body)
	_ = f.Close()
	if err != nil {
		return "", err
	}
	if opts.Verbose {
		log.Infof("image saved as %s", dest)
	}
	return filepath.Abs(dest)
}

// WebImage is an image found via web search, returned when the model is asked
// to send an image of something. Its URL is publicly fetchable.
type WebImage struct{ Image }

// GeneratedImage is an image produced by the image generation backend. Its
// URL is only fetchable with the session cookies of the account that
// generated it.
type GeneratedImage struct {
	Image
	Cookies map[string]string
}

// Save downloads the generated image. FullSize requests the 2048px rendition.
// A default filename is derived from the timestamp and URL tail since
// generated URLs carry no meaningful basename.
func (g GeneratedImage) Save(ctx context.Context, fullSize bool, opts SaveOptions) (string, error) {
	if len(g.Cookies) == 0 {
		return "", &ValueError{Msg: "generated image requires session cookies"}
	}
	img := g.Image
	if fullSize {
		img.URL += "=s2048"
	}
	if opts.Filename == "" {
		ext := ".png"
		if strings.Contains(strings.ToLower(img.URL), ".jpg") {
			ext = ".jpg"
		}
		tail := img.URL
		if len(tail) > 10 {
			tail = tail[len(tail)-10:]
		}
		opts.Filename = sanitizeFilename(time.Now().Format("20060102150405") + "_" + tail + ext)
	}
	opts.Cookies = g.Cookies
	return img.Save(ctx, opts)
}
