package gemini

import (
	"encoding/json"
	"net/http"
	"net/url"
)

// OutboundRequest is a fully assembled request for one of the upstream
// endpoints: URL, merged headers, and the encoded body string.
type OutboundRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   string
}

// Attachment references a previously uploaded file: the opaque identifier
// returned by the upload endpoint plus the original file name the service
// displays.
type Attachment struct {
	ID   string
	Name string
}

// rotateBody is the fixed payload the rotate-cookies endpoint expects. The
// leading zeros are literal; encoding it through a JSON marshaler would
// normalize them away.
const rotateBody = `[000,"-0000000000000000000"]`

// mergeHeaders copies each header set into a fresh http.Header, later sets
// overriding earlier ones key-by-key.
func mergeHeaders(sets ...http.Header) http.Header {
	out := http.Header{}
	for _, h := range sets {
		for k, v := range h {
			out[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
		}
	}
	return out
}

// buildGenerate assembles the generate request. The body is the f.req
// double-encoded nested array: positions matter, not keys.
//
//	inner[0]       prompt item: [prompt] or [prompt, 0, null, uploads]
//	inner[0][3]    uploads: [[["<upload id>"], "<file name>"], ...]
//	inner[1]       always null
//	inner[2]       continuation: [cid, rid, rcid], or [null, null, null] fresh
//	outer          [null, "<inner marshaled as a JSON string>"]
//
// A fresh conversation sends all three continuation fields as explicit null
// placeholders; an active one sends all three identifiers from the same prior
// response. The two are never mixed.
func buildGenerate(endpoints Endpoints, prompt string, attachments []Attachment, model Model, state *ConversationState, creds Credentials, profile http.Header, accessToken string) (OutboundRequest, error) {
	if prompt == "" {
		return OutboundRequest{}, &ValueError{Msg: "prompt cannot be empty"}
	}

	var item0 any
	if len(attachments) > 0 {
		uploads := make([]any, 0, len(attachments))
		for _, a := range attachments {
			uploads = append(uploads, []any{[]any{a.ID}, a.Name})
		}
		item0 = []any{prompt, 0, nil, uploads}
	} else {
		item0 = []any{prompt}
	}

	// A fresh turn still sends the continuation slot with explicit null
	// placeholders in all three positions.
	item2 := []any{nil, nil, nil}
	if state != nil && !state.IsFresh() {
		cid, rid, rcid := state.Triple()
		item2 = []any{cid, rid, rcid}
	}

	inner := []any{item0, nil, item2}
	innerJSON, err := json.Marshal(inner)
	if err != nil {
		return OutboundRequest{}, err
	}
	outerJSON, err := json.Marshal([]any{nil, string(innerJSON)})
	if err != nil {
		return OutboundRequest{}, err
	}

	form := url.Values{}
	form.Set("at", accessToken)
	form.Set("f.req", string(outerJSON))

	header := mergeHeaders(HeadersGemini, profile, model.ModelHeader)
	header.Set("Cookie", buildCookieHeader(creds.CookieMap()))

	return OutboundRequest{
		Method: http.MethodPost,
		URL:    endpoints.Generate,
		Header: header,
		Body:   form.Encode(),
	}, nil
}

// buildRotate assembles the rotate-cookies request. Unlike generate it is a
// plain JSON POST bearing the current credentials.
func buildRotate(endpoints Endpoints, creds Credentials, profile http.Header) OutboundRequest {
	header := mergeHeaders(HeadersRotateCookies, profile)
	header.Set("Cookie", buildCookieHeader(creds.CookieMap()))
	return OutboundRequest{
		Method: http.MethodPost,
		URL:    endpoints.RotateCookies,
		Header: header,
		Body:   rotateBody,
	}
}
