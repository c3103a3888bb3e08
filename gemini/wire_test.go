package gemini

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

// Fixture builders for the nested-array wire format. A response is a short
// preamble followed by a line holding a JSON array of frames; each frame's
// element 2 is a JSON-encoded string carrying the real payload.

func makeCandidate(rcid, text string) []any {
	cand := make([]any, 38)
	cand[0] = rcid
	cand[1] = []any{text}
	return cand
}

func withThoughts(cand []any, thoughts string) []any {
	cand[37] = []any{[]any{[]any{thoughts}}}
	return cand
}

func withWebImage(cand []any, url, title, alt string) []any {
	wi := make([]any, 8)
	wi[0] = []any{[]any{url}, nil, nil, nil, alt}
	wi[7] = []any{title}
	section := make([]any, 2)
	section[1] = []any{wi}
	cand[12] = section
	return cand
}

func withGeneratedImage(cand []any, url, alt string, num int) []any {
	gi := make([]any, 4)
	gi[0] = []any{nil, nil, nil, []any{nil, nil, nil, url}}
	gi[3] = []any{nil, nil, nil, nil, nil, []any{alt}, num}
	imgSection := make([]any, 8)
	imgSection[7] = []any{[]any{gi}}
	cand[12] = imgSection
	return cand
}

func makeBody(cid, rid string, candidates ...[]any) []any {
	body := make([]any, 5)
	body[1] = []any{cid, rid}
	list := make([]any, 0, len(candidates))
	for _, c := range candidates {
		list = append(list, c)
	}
	body[4] = list
	return body
}

// wireResponse encodes payloads as frames on the array line of a streamed
// response, mirroring what the generate endpoint returns.
func wireResponse(t *testing.T, payloads ...[]any) []byte {
	t.Helper()
	frames := make([]any, 0, len(payloads))
	for _, p := range payloads {
		inner, err := json.Marshal(p)
		require.NoError(t, err)
		frames = append(frames, []any{"wrb.fr", nil, string(inner)})
	}
	return wireFrames(t, frames...)
}

// wireFrames writes pre-built frame elements onto the array line verbatim,
// for shapes wireResponse does not cover (e.g. error control frames).
func wireFrames(t *testing.T, frames ...any) []byte {
	t.Helper()
	line, err := json.Marshal(frames)
	require.NoError(t, err)
	return append([]byte(")]}'\n\n"), line...)
}
