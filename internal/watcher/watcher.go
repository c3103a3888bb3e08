// Package watcher provides file system monitoring for the cookie file.
// When the file changes on disk (e.g. the user re-exported fresh cookies from
// a browser), the new credentials are loaded and published to the client's
// cookie store without a restart.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/geminiweb-go/geminiweb/gemini"
)

const (
	fileReadMaxAttempts = 5
	fileReadRetryDelay  = 100 * time.Millisecond
)

// Watcher monitors the cookie file and replaces the client's credential
// snapshot when its contents change.
type Watcher struct {
	cookiePath string
	store      *gemini.CookieStore
	watcher    *fsnotify.Watcher
	lastHash   string
}

// New creates a watcher for the given cookie file, publishing reloaded
// credentials into the given store.
func New(cookiePath string, store *gemini.CookieStore) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		cookiePath: cookiePath,
		store:      store,
		watcher:    fsWatcher,
	}, nil
}

// Start begins watching until the context is canceled. The parent directory
// is watched rather than the file itself so editors that replace the file
// (rename-over) keep triggering events.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.cookiePath)
	if err := w.watcher.Add(dir); err != nil {
		log.Errorf("failed to watch cookie directory %s: %v", dir, err)
		return err
	}
	log.Debugf("watching cookie file: %s", w.cookiePath)
	w.lastHash = w.hashFile()

	go w.loop(ctx)
	return nil
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error { return w.watcher.Close() }

func (w *Watcher) loop(ctx context.Context) {
	defer func() { _ = w.watcher.Close() }()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.cookiePath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("cookie watcher error: %v", err)
		}
	}
}

// reload re-reads the cookie file and publishes a new snapshot if the
// contents actually changed. Reads are retried briefly because editors often
// trigger the event before the write completes.
func (w *Watcher) reload() {
	var creds gemini.Credentials
	var err error
	for attempt := 0; attempt < fileReadMaxAttempts; attempt++ {
		creds, err = gemini.LoadCookies(w.cookiePath)
		if err == nil {
			break
		}
		time.Sleep(fileReadRetryDelay)
	}
	if err != nil {
		log.Warnf("cookie file changed but could not be loaded: %v", err)
		return
	}

	hash := w.hashFile()
	if hash != "" && hash == w.lastHash {
		return
	}
	w.lastHash = hash

	if err = w.store.Replace(creds); err != nil {
		log.Warnf("refusing reloaded cookies: %v", err)
		return
	}
	log.Infof("cookie file changed; credentials reloaded")
}

func (w *Watcher) hashFile() string {
	data, err := os.ReadFile(w.cookiePath)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
