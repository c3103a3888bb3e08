package gemini

import (
	"net/http"
	"sort"
	"strings"
)

// Endpoints groups the upstream URLs. Tests override them to point at local
// fixtures; production code uses DefaultEndpoints.
type Endpoints struct {
	Init          string
	Generate      string
	RotateCookies string
	Upload        string
}

// DefaultEndpoints returns the live Gemini web endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Init:          "https://gemini.google.com/app",
		Generate:      "https://gemini.google.com/_/BardChatUi/data/assistant.lamda.BardFrontendService/StreamGenerate",
		RotateCookies: "https://accounts.google.com/RotateCookies",
		Upload:        "https://content-push.googleapis.com/upload",
	}
}

var (
	// HeadersGemini are the base headers for chat requests.
	HeadersGemini = http.Header{
		"Content-Type":  []string{"application/x-www-form-urlencoded;charset=utf-8"},
		"Host":          []string{"gemini.google.com"},
		"Origin":        []string{"https://gemini.google.com"},
		"Referer":       []string{"https://gemini.google.com/"},
		"X-Same-Domain": []string{"1"},
	}
	// HeadersRotateCookies are the headers for the rotate-cookies request,
	// which uses a JSON body unlike the form-encoded generate request.
	HeadersRotateCookies = http.Header{
		"Content-Type": []string{"application/json"},
	}
	// HeadersUpload carry the fixed Push-ID required by the upload endpoint.
	HeadersUpload = http.Header{
		"Push-ID": []string{"feeds/mcudyrk2a4khkz"},
	}
)

// Impersonation profiles ------------------------------------------------------
//
// The upstream service expects browser-shaped traffic. A profile is a named set
// of identity headers merged into every request.

var impersonationProfiles = map[string]http.Header{
	"chrome110": {
		"User-Agent": []string{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/110.0.0.0 Safari/537.36"},
		"Sec-Ch-Ua":  []string{`"Chromium";v="110", "Not A(Brand";v="24", "Google Chrome";v="110"`},
	},
	"chrome120": {
		"User-Agent": []string{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"},
		"Sec-Ch-Ua":  []string{`"Chromium";v="120", "Not A(Brand";v="24", "Google Chrome";v="120"`},
	},
	"firefox121": {
		"User-Agent": []string{"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0"},
	},
}

// DefaultImpersonation is used when no profile is configured.
const DefaultImpersonation = "chrome120"

// ImpersonationProfile returns the identity headers for a named browser
// profile. Unknown names fail explicitly so a typo never silently downgrades
// the request fingerprint.
func ImpersonationProfile(name string) (http.Header, error) {
	if name == "" {
		name = DefaultImpersonation
	}
	h, ok := impersonationProfiles[strings.ToLower(name)]
	if !ok {
		return nil, &ConfigError{Msg: "unknown impersonation profile: " + name}
	}
	return h, nil
}

// Model metadata -------------------------------------------------------------
//
// Each selectable backend variant carries an opaque protocol-version header
// fragment (x-goog-ext-525001261-jspb) that the wire protocol requires and
// that changes upstream without notice. The set is data, not code: adding a
// variant means adding a table entry.

type Model struct {
	Name         string
	ModelHeader  http.Header
	AdvancedOnly bool
}

var (
	ModelUnspecified = Model{
		Name:        "unspecified",
		ModelHeader: http.Header{},
	}
	ModelG20Flash = Model{
		Name: "gemini-2.0-flash",
		ModelHeader: http.Header{
			"X-Goog-Ext-525001261-Jspb": []string{"[1,null,null,null,\"f299729663a2343f\"]"},
		},
	}
	ModelG20FlashThinking = Model{
		Name: "gemini-2.0-flash-thinking",
		ModelHeader: http.Header{
			"X-Goog-Ext-525001261-Jspb": []string{"[null,null,null,null,\"7ca48d02d802f20a\"]"},
		},
	}
	ModelG25Flash = Model{
		Name: "gemini-2.5-flash",
		ModelHeader: http.Header{
			"X-Goog-Ext-525001261-Jspb": []string{"[1,null,null,null,\"35609594dbe934d8\"]"},
		},
	}
	ModelG25Pro = Model{
		Name: "gemini-2.5-pro",
		ModelHeader: http.Header{
			"X-Goog-Ext-525001261-Jspb": []string{"[1,null,null,null,\"2525e3954d185b3c\"]"},
		},
	}
	ModelG20ExpAdvanced = Model{
		Name: "gemini-2.0-exp-advanced",
		ModelHeader: http.Header{
			"X-Goog-Ext-525001261-Jspb": []string{"[null,null,null,null,\"b1e46a6037e6aa9f\"]"},
		},
		AdvancedOnly: true,
	}
	ModelG25ExpAdvanced = Model{
		Name: "gemini-2.5-exp-advanced",
		ModelHeader: http.Header{
			"X-Goog-Ext-525001261-Jspb": []string{"[null,null,null,null,\"203e6bb81620bcfe\"]"},
		},
		AdvancedOnly: true,
	}
)

var modelsByName = map[string]Model{
	ModelUnspecified.Name:      ModelUnspecified,
	ModelG20Flash.Name:         ModelG20Flash,
	ModelG20FlashThinking.Name: ModelG20FlashThinking,
	ModelG25Flash.Name:         ModelG25Flash,
	ModelG25Pro.Name:           ModelG25Pro,
	ModelG20ExpAdvanced.Name:   ModelG20ExpAdvanced,
	ModelG25ExpAdvanced.Name:   ModelG25ExpAdvanced,
}

// ModelFromName resolves a canonical model name. Unknown names fail with a
// ConfigError listing the available models rather than silently defaulting.
func ModelFromName(name string) (Model, error) {
	if m, ok := modelsByName[strings.ToLower(name)]; ok {
		return m, nil
	}
	names := make([]string, 0, len(modelsByName))
	for n := range modelsByName {
		names = append(names, n)
	}
	sort.Strings(names)
	return Model{}, &ConfigError{Msg: "unknown model name: " + name + ". Available models: " + strings.Join(names, ", ")}
}

// Known error codes the server embeds in control frames.
const (
	ErrorUsageLimitExceeded   = 1037
	ErrorModelInconsistent    = 1050
	ErrorModelHeaderInvalid   = 1052
	ErrorIPTemporarilyBlocked = 1060
)
