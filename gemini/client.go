package gemini

import (
	"context"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// AuthClassifier decides whether a generate response indicates an
// authentication failure (triggering the single rotate-and-retry) as opposed
// to a generic HTTP failure. The upstream service's failure signaling is
// undocumented, so the classification is pluggable.
type AuthClassifier func(statusCode int, body []byte) bool

// DefaultAuthClassifier treats 401 and 403 as authentication failures.
func DefaultAuthClassifier(statusCode int, _ []byte) bool {
	return statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden
}

// MetadataStore persists conversation continuation triples across processes.
type MetadataStore interface {
	PutMetadata(account, model string, metadata []string) error
	GetMetadata(account, model string) ([]string, bool, error)
}

var reAccessToken = regexp.MustCompile(`"SNlM0e":"([^"]+)"`)

// Client drives the session engine: it owns the credential store, the HTTP
// client, and the access token, and orchestrates build/send/rotate/decode for
// each turn.
type Client struct {
	endpoints  Endpoints
	httpClient *http.Client
	cookies    *CookieStore
	logger     *logrus.Logger
	profile    http.Header
	proxy      ProxyConfig
	insecure   bool
	timeout    time.Duration
	interval   time.Duration
	advanced   bool
	classify   AuthClassifier

	metaStore MetadataStore
	account   string

	persistPath string
	profileErr  error

	tokenMu     sync.Mutex
	accessToken string
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoints overrides the upstream URLs, mainly for tests.
func WithEndpoints(e Endpoints) Option { return func(c *Client) { c.endpoints = e } }

// WithProxy routes outbound traffic through a proxy (http, https, or socks5),
// either a single URL or a per-scheme map.
func WithProxy(p ProxyConfig) Option { return func(c *Client) { c.proxy = p } }

// WithInsecureTLS skips TLS certificate verification.
func WithInsecureTLS(insecure bool) Option { return func(c *Client) { c.insecure = insecure } }

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

// WithLogger injects the logger; the standard logrus logger is used otherwise.
func WithLogger(l *logrus.Logger) Option { return func(c *Client) { c.logger = l } }

// WithAdvancedTier marks the account as entitled to advanced-only models.
func WithAdvancedTier(enabled bool) Option { return func(c *Client) { c.advanced = enabled } }

// WithAuthClassifier replaces the auth-failure detection heuristic.
func WithAuthClassifier(f AuthClassifier) Option { return func(c *Client) { c.classify = f } }

// WithRotationInterval sets the proactive cookie-rotation period.
func WithRotationInterval(d time.Duration) Option { return func(c *Client) { c.interval = d } }

// WithImpersonation selects a browser impersonation profile by name. The
// profile is resolved in NewClient so an unknown name fails construction.
func WithImpersonation(name string) Option {
	return func(c *Client) {
		h, err := ImpersonationProfile(name)
		if err != nil {
			// Defer the failure to NewClient's validation pass.
			c.profile = nil
			c.profileErr = err
			return
		}
		c.profile = h
	}
}

// WithMetadataStore persists continuation triples under the given account key
// after every successful turn.
func WithMetadataStore(ms MetadataStore, account string) Option {
	return func(c *Client) {
		c.metaStore = ms
		c.account = account
	}
}

// WithCookieFilePersistence writes rotated __Secure-1PSIDTS values back to the
// given cookie file after each successful rotation.
func WithCookieFilePersistence(path string) Option {
	return func(c *Client) { c.persistPath = path }
}

// NewClient builds a client around loaded credentials. It performs no network
// activity; the access token is acquired lazily on the first turn (or via an
// explicit Init call).
func NewClient(creds Credentials, opts ...Option) (*Client, error) {
	if !creds.Valid() {
		return nil, &AuthError{Msg: "both " + CookiePSID + " and " + CookiePSIDTS + " are required"}
	}
	c := &Client{
		endpoints: DefaultEndpoints(),
		logger:    logrus.StandardLogger(),
		timeout:   300 * time.Second,
		interval:  DefaultRotationInterval,
		classify:  DefaultAuthClassifier,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.profileErr != nil {
		return nil, c.profileErr
	}
	if c.profile == nil {
		c.profile, _ = ImpersonationProfile(DefaultImpersonation)
	}
	c.httpClient = newHTTPClient(httpOptions{
		Proxy:           c.proxy,
		Insecure:        c.insecure,
		FollowRedirects: true,
		Timeout:         c.timeout,
	})
	c.cookies = NewCookieStore(creds, c.interval, c.rotateOnce)
	if c.persistPath != "" {
		path := c.persistPath
		logger := c.logger
		c.cookies.OnRotate(func(newTS string) {
			if err := PersistRotatedCookie(path, newTS); err != nil {
				logger.Warnf("failed to persist rotated cookie: %v", err)
			}
		})
	}
	return c, nil
}

// Cookies exposes the credential store, e.g. for the cookie-file watcher to
// publish reloaded snapshots.
func (c *Client) Cookies() *CookieStore { return c.cookies }

// Init fetches the app page and extracts the request access token embedded in
// it. Called lazily by the first turn when not invoked explicitly.
func (c *Client) Init(ctx context.Context) error {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.accessToken != "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.Init, nil)
	if err != nil {
		return err
	}
	applyHeaders(req, c.profile)
	applyCookies(req, c.cookies.Snapshot().CookieMap())
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Msg: "init request failed", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &AuthError{Msg: "init request rejected: " + resp.Status}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Msg: "failed to read init response", Err: err}
	}
	m := reAccessToken.FindSubmatch(body)
	if len(m) < 2 {
		return &AuthError{Msg: "failed to retrieve access token from app page"}
	}
	c.accessToken = string(m[1])
	c.logger.Debug("access token acquired")
	return nil
}

func (c *Client) token() string {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	return c.accessToken
}

// rotateOnce performs a single rotate-cookies request with the given
// credentials as bearer of trust. The CookieStore coalesces concurrent calls.
func (c *Client) rotateOnce(ctx context.Context, current Credentials) (string, error) {
	out := buildRotate(c.endpoints, current, c.profile)
	req, err := http.NewRequestWithContext(ctx, out.Method, out.URL, strings.NewReader(out.Body))
	if err != nil {
		return "", err
	}
	req.Header = out.Header
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TransportError{Msg: "rotate-cookies request failed", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &AuthError{Msg: "rotate-cookies rejected: " + resp.Status}
	}
	for _, ck := range resp.Cookies() {
		if ck.Name == CookiePSIDTS && ck.Value != "" {
			return ck.Value, nil
		}
	}
	return "", nil
}

// Generate runs one full turn against the given conversation: resolve the
// model, gate advanced-only variants, upload attachments, proactively rotate
// stale credentials, send, retry once through a rotation on auth failure,
// decode, and advance the conversation state.
//
// Retry bound: the attempt counter runs ATTEMPT(0) -> rotate -> RETRY(1) ->
// fail. There is no path back to a third generate call.
func (c *Client) Generate(ctx context.Context, prompt string, files []string, modelName string, state *ConversationState) (*ModelOutput, error) {
	model, err := ModelFromName(modelName)
	if err != nil {
		return nil, err
	}
	if model.AdvancedOnly && !c.advanced {
		return nil, &ModelUnavailableError{Msg: "model " + model.Name + " requires the advanced tier"}
	}
	if state == nil {
		state = NewConversationState()
	}

	state.beginTurn()
	defer state.endTurn()

	if err = c.Init(ctx); err != nil {
		return nil, err
	}

	// A failed upload aborts the turn before any generate call is sent.
	attachments := make([]Attachment, 0, len(files))
	for _, f := range files {
		att, errUpload := c.UploadFile(ctx, f)
		if errUpload != nil {
			return nil, errUpload
		}
		attachments = append(attachments, att)
	}

	if c.cookies.Stale() {
		if _, errRotate := c.cookies.Rotate(ctx); errRotate != nil {
			// Credentials may still be valid; proceed and let the generate
			// call decide.
			c.logger.Warnf("proactive cookie rotation failed: %v", errRotate)
		}
	}

	creds := c.cookies.Snapshot()
	for attempt := 0; ; attempt++ {
		output, authFail, errSend := c.generateOnce(ctx, prompt, attachments, model, state, creds)
		if errSend == nil {
			c.decorateImages(output)
			if errAdvance := state.Advance(output); errAdvance != nil {
				return nil, errAdvance
			}
			c.persistMetadata(model.Name, state)
			return output, nil
		}
		if !authFail {
			return nil, errSend
		}
		if attempt >= 1 {
			return nil, &AuthError{Msg: "generate call auth-rejected after cookie rotation: " + errSend.Error()}
		}
		newCreds, errRotate := c.cookies.Rotate(ctx)
		if errRotate != nil {
			var authErr *AuthError
			if errors.As(errRotate, &authErr) {
				return nil, errRotate
			}
			return nil, &AuthError{Msg: "cookie rotation after auth failure did not succeed: " + errRotate.Error()}
		}
		c.logger.Info("credentials rotated after auth failure; retrying once")
		creds = newCreds
	}
}

// generateOnce sends one generate request. The bool result reports whether a
// failure was classified as an authentication failure.
func (c *Client) generateOnce(ctx context.Context, prompt string, attachments []Attachment, model Model, state *ConversationState, creds Credentials) (*ModelOutput, bool, error) {
	out, err := buildGenerate(c.endpoints, prompt, attachments, model, state, creds, c.profile, c.token())
	if err != nil {
		return nil, false, err
	}
	req, err := http.NewRequestWithContext(ctx, out.Method, out.URL, strings.NewReader(out.Body))
	if err != nil {
		return nil, false, err
	}
	req.Header = out.Header

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, &TransportError{Msg: "generate request failed", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, &TransportError{Msg: "failed to read generate response", Err: err}
	}
	if c.classify(resp.StatusCode, body) {
		return nil, true, &AuthError{Msg: "generate rejected: " + resp.Status}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, false, &TemporarilyBlocked{GeminiError{Msg: "too many requests; IP temporarily blocked"}}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, &TransportError{Msg: "generate failed with status " + resp.Status}
	}

	output, err := Decode(body)
	if err != nil {
		return nil, false, err
	}
	return output, false, nil
}

// decorateImages stamps transport settings and, for generated images, the
// session cookies onto decoded image references so they can be saved later
// without access to the client.
func (c *Client) decorateImages(output *ModelOutput) {
	cookies := c.cookies.Snapshot().CookieMap()
	for i := range output.Candidates {
		cand := &output.Candidates[i]
		for j := range cand.WebImages {
			cand.WebImages[j].Proxy = c.proxy
			cand.WebImages[j].Insecure = c.insecure
		}
		for j := range cand.GeneratedImages {
			cand.GeneratedImages[j].Proxy = c.proxy
			cand.GeneratedImages[j].Insecure = c.insecure
			cand.GeneratedImages[j].Cookies = cookies
		}
	}
}

func (c *Client) persistMetadata(modelName string, state *ConversationState) {
	if c.metaStore == nil {
		return
	}
	if err := c.metaStore.PutMetadata(c.account, modelName, state.Metadata()); err != nil {
		c.logger.Warnf("failed to persist conversation metadata: %v", err)
	}
}

// StartChat opens a conversation bound to a model. The returned session
// serializes its own turns; distinct sessions progress concurrently.
func (c *Client) StartChat(modelName string) *ChatSession {
	return &ChatSession{client: c, modelName: modelName, state: NewConversationState()}
}

// ResumeChat opens a conversation seeded from persisted metadata, if any.
func (c *Client) ResumeChat(modelName string) *ChatSession {
	cs := c.StartChat(modelName)
	if c.metaStore != nil {
		if meta, ok, err := c.metaStore.GetMetadata(c.account, modelName); err == nil && ok && len(meta) == 3 {
			cs.state = RestoredState(meta[0], meta[1], meta[2])
		}
	}
	return cs
}

// ChatSession couples a conversation state with the client and a model.
type ChatSession struct {
	client     *Client
	modelName  string
	state      *ConversationState
	lastOutput *ModelOutput
}

// SendMessage runs one turn in this conversation.
func (cs *ChatSession) SendMessage(ctx context.Context, prompt string, files ...string) (*ModelOutput, error) {
	output, err := cs.client.Generate(ctx, prompt, files, cs.modelName, cs.state)
	if err != nil {
		return nil, err
	}
	cs.lastOutput = output
	return output, nil
}

// ChooseCandidate selects a different candidate from the last output, so the
// next turn continues from it. The replacement id comes from the same
// response as the current conversation and last-response ids.
func (cs *ChatSession) ChooseCandidate(index int) (*ModelOutput, error) {
	if cs.lastOutput == nil {
		return nil, &ValueError{Msg: "no previous output in this chat session"}
	}
	if index < 0 || index >= len(cs.lastOutput.Candidates) {
		return nil, &ValueError{Msg: "candidate index out of range"}
	}
	cs.lastOutput.Chosen = index
	if err := cs.state.Advance(cs.lastOutput); err != nil {
		return nil, err
	}
	cs.client.persistMetadata(cs.modelName, cs.state)
	return cs.lastOutput, nil
}

// State exposes the conversation state, e.g. for external persistence.
func (cs *ChatSession) State() *ConversationState { return cs.state }

// Reset forces the conversation back to fresh; the next turn starts a new
// exchange.
func (cs *ChatSession) Reset() {
	cs.state.Reset()
	cs.lastOutput = nil
}
