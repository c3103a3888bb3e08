package gemini

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

var testCreds = Credentials{Secure1PSID: "psid-value", Secure1PSIDTS: "psidts-value"}

// decodeFReq unwraps the double-encoded request body back into the inner
// nested array for positional assertions.
func decodeFReq(t *testing.T, body string) gjson.Result {
	t.Helper()
	form, err := url.ParseQuery(body)
	require.NoError(t, err)
	outer := gjson.Parse(form.Get("f.req"))
	require.True(t, outer.IsArray())
	inner := gjson.Parse(outer.Get("1").String())
	require.True(t, inner.IsArray())
	return inner
}

func TestBuildGenerateFresh(t *testing.T) {
	out, err := buildGenerate(DefaultEndpoints(), "hello there", nil, ModelG25Flash,
		NewConversationState(), testCreds, nil, "token-abc")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, out.Method)
	assert.Equal(t, DefaultEndpoints().Generate, out.URL)
	assert.Equal(t, "application/x-www-form-urlencoded;charset=utf-8", out.Header.Get("Content-Type"))
	assert.Equal(t, ModelG25Flash.ModelHeader.Get("x-goog-ext-525001261-jspb"),
		out.Header.Get("x-goog-ext-525001261-jspb"))
	assert.Equal(t, "__Secure-1PSID=psid-value; __Secure-1PSIDTS=psidts-value",
		out.Header.Get("Cookie"))

	form, err := url.ParseQuery(out.Body)
	require.NoError(t, err)
	assert.Equal(t, "token-abc", form.Get("at"))

	inner := decodeFReq(t, out.Body)
	assert.Equal(t, "hello there", inner.Get("0.0").String())
	assert.Equal(t, gjson.Null, inner.Get("1").Type)

	// A fresh conversation sends all three continuation fields as explicit
	// null placeholders, never a collapsed slot.
	cont := inner.Get("2")
	require.True(t, cont.IsArray())
	elems := cont.Array()
	require.Len(t, elems, 3)
	for i, e := range elems {
		assert.Equal(t, gjson.Null, e.Type, "continuation field %d", i)
	}
}

func TestBuildGenerateActiveConversation(t *testing.T) {
	state := RestoredState("c_777", "r_888", "rc_999")
	out, err := buildGenerate(DefaultEndpoints(), "and then?", nil, ModelUnspecified,
		state, testCreds, nil, "tok")
	require.NoError(t, err)

	cont := decodeFReq(t, out.Body).Get("2")
	require.True(t, cont.IsArray())
	assert.Equal(t, "c_777", cont.Get("0").String())
	assert.Equal(t, "r_888", cont.Get("1").String())
	assert.Equal(t, "rc_999", cont.Get("2").String())
}

func TestBuildGenerateRoundTripsDecodedIdentifiers(t *testing.T) {
	// Identifiers must flow verbatim from a decoded response into the next
	// request, with no normalization in between.
	raw := wireResponse(t, makeBody("c_aB/1==", "r_+x9", makeCandidate("rc__0", "ok")))
	output, err := Decode(raw)
	require.NoError(t, err)

	state := NewConversationState()
	require.NoError(t, state.Advance(output))

	out, err := buildGenerate(DefaultEndpoints(), "next", nil, ModelUnspecified,
		state, testCreds, nil, "tok")
	require.NoError(t, err)

	cont := decodeFReq(t, out.Body).Get("2")
	assert.Equal(t, "c_aB/1==", cont.Get("0").String())
	assert.Equal(t, "r_+x9", cont.Get("1").String())
	assert.Equal(t, "rc__0", cont.Get("2").String())
}

func TestBuildGenerateAttachments(t *testing.T) {
	atts := []Attachment{
		{ID: "upload-id-1", Name: "photo.png"},
		{ID: "upload-id-2", Name: "notes.txt"},
	}
	out, err := buildGenerate(DefaultEndpoints(), "describe these", atts, ModelUnspecified,
		nil, testCreds, nil, "tok")
	require.NoError(t, err)

	inner := decodeFReq(t, out.Body)
	assert.Equal(t, "describe these", inner.Get("0.0").String())
	assert.Equal(t, int64(0), inner.Get("0.1").Int())
	assert.Equal(t, gjson.Null, inner.Get("0.2").Type)
	assert.Equal(t, "upload-id-1", inner.Get("0.3.0.0.0").String())
	assert.Equal(t, "photo.png", inner.Get("0.3.0.1").String())
	assert.Equal(t, "upload-id-2", inner.Get("0.3.1.0.0").String())
	assert.Equal(t, "notes.txt", inner.Get("0.3.1.1").String())
}

func TestBuildGenerateEmptyPrompt(t *testing.T) {
	_, err := buildGenerate(DefaultEndpoints(), "", nil, ModelUnspecified,
		nil, testCreds, nil, "tok")
	var valErr *ValueError
	require.ErrorAs(t, err, &valErr)
}

func TestBuildGenerateProfileHeadersMerged(t *testing.T) {
	profile, err := ImpersonationProfile("firefox121")
	require.NoError(t, err)
	out, err := buildGenerate(DefaultEndpoints(), "hi", nil, ModelUnspecified,
		nil, testCreds, profile, "tok")
	require.NoError(t, err)
	assert.Contains(t, out.Header.Get("User-Agent"), "Firefox")
}

func TestBuildRotate(t *testing.T) {
	out := buildRotate(DefaultEndpoints(), testCreds, nil)

	assert.Equal(t, http.MethodPost, out.Method)
	assert.Equal(t, DefaultEndpoints().RotateCookies, out.URL)
	assert.Equal(t, "application/json", out.Header.Get("Content-Type"))
	assert.Contains(t, out.Header.Get("Cookie"), "__Secure-1PSID=psid-value")

	// The leading zeros are load-bearing; a JSON marshaler would strip them.
	assert.Equal(t, `[000,"-0000000000000000000"]`, out.Body)
}

func TestMergeHeadersLaterSetsWin(t *testing.T) {
	base := http.Header{"X-Test": []string{"base"}, "Keep": []string{"kept"}}
	override := http.Header{"x-test": []string{"override"}}
	merged := mergeHeaders(base, override)
	assert.Equal(t, "override", merged.Get("X-Test"))
	assert.Equal(t, "kept", merged.Get("Keep"))
}

func TestModelFromName(t *testing.T) {
	m, err := ModelFromName("gemini-2.5-pro")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", m.Name)
	assert.False(t, m.AdvancedOnly)

	m, err = ModelFromName("gemini-2.5-exp-advanced")
	require.NoError(t, err)
	assert.True(t, m.AdvancedOnly)

	_, err = ModelFromName("gpt-5")
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Msg, "Available models")
	assert.Contains(t, cfgErr.Msg, "gemini-2.0-flash")
}

func TestImpersonationProfile(t *testing.T) {
	h, err := ImpersonationProfile("")
	require.NoError(t, err)
	assert.Contains(t, h.Get("User-Agent"), "Chrome/120")

	h, err = ImpersonationProfile("Chrome110")
	require.NoError(t, err)
	assert.Contains(t, h.Get("User-Agent"), "Chrome/110")

	_, err = ImpersonationProfile("netscape4")
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}
