// Command geminiweb sends one chat turn to the Gemini web API using browser
// session cookies and prints the reply. Conversation metadata is persisted so
// consecutive invocations continue the same conversation.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/geminiweb-go/geminiweb/gemini"
	"github.com/geminiweb-go/geminiweb/internal/config"
	"github.com/geminiweb-go/geminiweb/internal/logging"
	"github.com/geminiweb-go/geminiweb/internal/store"
	"github.com/geminiweb-go/geminiweb/internal/watcher"
)

type fileList []string

func (f *fileList) String() string { return strings.Join(*f, ",") }

func (f *fileList) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func init() {
	logging.SetupBaseLogger()
}

func main() {
	var (
		configPath string
		prompt     string
		modelName  string
		files      fileList
		saveImages string
		reset      bool
	)

	flag.StringVar(&configPath, "config", "config.yaml", "configuration file path")
	flag.StringVar(&prompt, "prompt", "", "prompt to send")
	flag.StringVar(&modelName, "model", "", "model name (overrides config)")
	flag.Var(&files, "file", "file to attach (repeatable)")
	flag.StringVar(&saveImages, "save-images", "", "directory to save reply images into")
	flag.BoolVar(&reset, "reset", false, "start a fresh conversation")
	flag.Parse()

	if prompt == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
	if err = logging.ConfigureLogOutput(cfg.LoggingToFile); err != nil {
		log.Fatalf("failed to configure logging: %v", err)
	}

	if modelName == "" {
		modelName = cfg.Model
	}

	creds, err := gemini.LoadCookies(cfg.CookieFile)
	if err != nil {
		log.Fatalf("failed to load cookies: %v", err)
	}

	opts := []gemini.Option{
		gemini.WithProxy(gemini.ProxyConfig{URL: cfg.Proxy.URL, PerScheme: cfg.Proxy.PerScheme}),
		gemini.WithImpersonation(cfg.Impersonate),
		gemini.WithRotationInterval(cfg.RotationInterval.Std()),
		gemini.WithTimeout(cfg.Timeout.Std()),
		gemini.WithAdvancedTier(cfg.Advanced),
	}
	if cfg.PersistCookies {
		opts = append(opts, gemini.WithCookieFilePersistence(cfg.CookieFile))
	}
	if cfg.ConvStore != "" {
		metaStore, errStore := store.New(cfg.ConvStore)
		if errStore != nil {
			log.Fatalf("failed to open conversation store: %v", errStore)
		}
		opts = append(opts, gemini.WithMetadataStore(metaStore, cfg.CookieFile))
	}

	client, err := gemini.NewClient(creds, opts...)
	if err != nil {
		log.Fatalf("failed to create client: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.WatchCookieFile {
		cookieWatcher, errWatch := watcher.New(cfg.CookieFile, client.Cookies())
		if errWatch != nil {
			log.Fatalf("failed to create cookie watcher: %v", errWatch)
		}
		if errWatch = cookieWatcher.Start(ctx); errWatch != nil {
			log.Fatalf("failed to start cookie watcher: %v", errWatch)
		}
	}

	chat := client.ResumeChat(modelName)
	if reset {
		chat.Reset()
	}

	output, err := chat.SendMessage(ctx, prompt, files...)
	if err != nil {
		log.Fatalf("send failed: %v", err)
	}

	if thoughts := output.Thoughts(); thoughts != nil && *thoughts != "" {
		fmt.Fprintln(os.Stderr, *thoughts)
	}
	fmt.Println(output.Text())

	if saveImages != "" {
		saveReplyImages(ctx, output, saveImages)
	}
}

// saveReplyImages downloads every image in the chosen candidate. A failed
// save is reported per asset and does not invalidate the chat result.
func saveReplyImages(ctx context.Context, output *gemini.ModelOutput, dir string) {
	chosen := output.Candidates[output.Chosen]
	for _, img := range chosen.WebImages {
		path, err := img.Save(ctx, gemini.SaveOptions{Dir: dir, SkipInvalidFilename: true})
		if err != nil {
			log.Warnf("failed to save web image %s: %v", img.URL, err)
			continue
		}
		if path != "" {
			log.Infof("saved %s", path)
		}
	}
	for _, img := range chosen.GeneratedImages {
		path, err := img.Save(ctx, true, gemini.SaveOptions{Dir: dir, SkipInvalidFilename: true})
		if err != nil {
			log.Warnf("failed to save generated image %s: %v", img.URL, err)
			continue
		}
		if path != "" {
			log.Infof("saved %s", path)
		}
	}
}
