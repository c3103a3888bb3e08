package gemini

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Positional index table ------------------------------------------------------
//
// The response is a non-self-describing nested array; these gjson paths are
// the single place where its positions are given meaning. When the protocol
// drifts upstream, this table is what changes.
const (
	// Relative to the decoded inner body.
	pathMetadata   = "1" // [cid, rid]
	pathCandidates = "4" // candidate list

	// Relative to a top-level control frame: nested server error code.
	pathErrorCode = "0.5.2.0.1.0"

	// Relative to one candidate.
	pathCandRCID      = "0"      // chosen-candidate id
	pathCandText      = "1.0"    // reply text
	pathCandTextAlt   = "22.0"   // reply text when 1.0 holds a card-content URL
	pathCandThoughts  = "37.0.0" // model reasoning (thinking variants)
	pathCandWebImages = "12.1"   // web-found image list
	pathCandGenImages = "12.7.0" // generated image list

	// Relative to one web image entry.
	pathWebImgURL   = "0.0.0"
	pathWebImgTitle = "7.0"
	pathWebImgAlt   = "0.4"

	// Relative to one generated image entry.
	pathGenImgURL  = "0.3.3"
	pathGenImgNum  = "3.6"
	pathGenImgAlts = "3.5"
)

var (
	reCardContent = regexp.MustCompile(`^http://googleusercontent\.com/card_content/\d+`)
	reGenMarker   = regexp.MustCompile(`http://googleusercontent\.com/image_generation_content/\d+`)
)

// Decode parses the raw streamed response body into a ModelOutput. It is a
// pure function of its input: no network, no mutation, deterministic, so it
// can be exercised directly against recorded fixtures.
//
// The wire format is line-oriented: the third line holds a JSON array whose
// elements are frames of the form [tag, id, "<payload>"], where the payload
// is itself a JSON-encoded array (double-encoded JSON). The frame whose
// decoded payload has a non-null candidate list is the body; the rest are
// control frames. If no body is present the control frames are inspected for
// a server error code before giving up with a ParseError.
func Decode(raw []byte) (*ModelOutput, error) {
	parts := strings.Split(string(raw), "\n")
	if len(parts) < 3 {
		return nil, &ParseError{Msg: "response too short: expected the array line at index 2", Fragment: fragment(string(raw))}
	}

	frame := gjson.Parse(parts[2])
	if !frame.IsArray() {
		return nil, &ParseError{Msg: "response line 2 is not a JSON array", Fragment: fragment(parts[2])}
	}

	body, bodyIndex := findBody(frame)
	lastFrame := frame
	if !body.Exists() {
		// Later lines sometimes carry the data frame when the stream is
		// chunked; scan them before concluding the response has no body.
		for li := 3; li < len(parts); li++ {
			line := strings.TrimSpace(parts[li])
			if line == "" {
				continue
			}
			top := gjson.Parse(line)
			if !top.IsArray() {
				continue
			}
			lastFrame = top
			if b, i := findBody(top); b.Exists() {
				body, bodyIndex, frame = b, i, top
				break
			}
		}
	}
	if !body.Exists() {
		if err := upstreamError(lastFrame); err != nil {
			return nil, err
		}
		return nil, &ParseError{Msg: "no data frame with a candidate list found", Fragment: fragment(parts[2])}
	}

	var metadata []string
	body.Get(pathMetadata).ForEach(func(_, v gjson.Result) bool {
		if v.Type == gjson.String {
			metadata = append(metadata, v.String())
		}
		return true
	})

	candList := body.Get(pathCandidates)
	if !candList.IsArray() {
		return nil, &ParseError{Msg: "candidate list has unexpected shape", Fragment: fragment(body.Raw)}
	}

	var candidates []Candidate
	ci := -1
	candList.ForEach(func(_, cand gjson.Result) bool {
		ci++
		if !cand.IsArray() {
			return true
		}
		text := cand.Get(pathCandText).String()
		if reCardContent.MatchString(text) {
			if alt := cand.Get(pathCandTextAlt); alt.Exists() {
				text = alt.String()
			}
		}

		var thoughts *string
		if t := cand.Get(pathCandThoughts); t.Exists() {
			s := decodeHTML(t.String())
			thoughts = &s
		}

		var webImages []WebImage
		cand.Get(pathCandWebImages).ForEach(func(_, wi gjson.Result) bool {
			webImages = append(webImages, WebImage{Image: Image{
				URL:   wi.Get(pathWebImgURL).String(),
				Title: wi.Get(pathWebImgTitle).String(),
				Alt:   wi.Get(pathWebImgAlt).String(),
			}})
			return true
		})

		genImages, genText := decodeGeneratedImages(frame, bodyIndex, ci)
		if genText != "" {
			text = genText
		}

		candidates = append(candidates, Candidate{
			RCID:            cand.Get(pathCandRCID).String(),
			Text:            decodeHTML(text),
			Thoughts:        thoughts,
			WebImages:       webImages,
			GeneratedImages: genImages,
		})
		return true
	})

	if len(candidates) == 0 {
		return nil, &ParseError{Msg: "no candidates found in response body", Fragment: fragment(body.Raw)}
	}
	return &ModelOutput{Metadata: metadata, Candidates: candidates, Chosen: 0}, nil
}

// findBody locates the frame element whose double-decoded payload carries a
// non-null candidate list, returning the decoded body and the element index.
func findBody(frame gjson.Result) (gjson.Result, int) {
	var body gjson.Result
	index := -1
	i := -1
	frame.ForEach(func(_, elem gjson.Result) bool {
		i++
		payload := elem.Get("2")
		if payload.Type != gjson.String {
			return true
		}
		inner := gjson.Parse(payload.String())
		if !inner.IsArray() {
			return true
		}
		if c := inner.Get(pathCandidates); c.Exists() && c.Type != gjson.Null {
			body = inner
			index = i
			return false
		}
		return true
	})
	return body, index
}

// decodeGeneratedImages scans frame elements from the body onward for the
// frame that carries candidate ci's generated-image section, which arrives in
// a later frame than the text. Returns the images and the candidate text with
// the generation marker stripped.
func decodeGeneratedImages(frame gjson.Result, bodyIndex, ci int) ([]GeneratedImage, string) {
	elems := frame.Array()
	for pi := bodyIndex; pi >= 0 && pi < len(elems); pi++ {
		payload := elems[pi].Get("2")
		if payload.Type != gjson.String {
			continue
		}
		inner := gjson.Parse(payload.String())
		imgCand := inner.Get(fmt.Sprintf("%s.%d", pathCandidates, ci))
		imgs := imgCand.Get(pathCandGenImages)
		if !imgs.IsArray() || len(imgs.Array()) == 0 {
			continue
		}

		text := strings.TrimSpace(reGenMarker.ReplaceAllString(imgCand.Get(pathCandText).String(), ""))

		var out []GeneratedImage
		ii := -1
		imgs.ForEach(func(_, gi gjson.Result) bool {
			ii++
			title := "[Generated Image]"
			if n := gi.Get(pathGenImgNum); n.Exists() && n.Int() != 0 {
				title = fmt.Sprintf("[Generated Image %d]", n.Int())
			}
			alt := ""
			if alts := gi.Get(pathGenImgAlts); alts.IsArray() {
				arr := alts.Array()
				if ii < len(arr) {
					alt = arr[ii].String()
				} else if len(arr) > 0 {
					alt = arr[0].String()
				}
			}
			out = append(out, GeneratedImage{Image: Image{
				URL:   gi.Get(pathGenImgURL).String(),
				Title: title,
				Alt:   alt,
			}})
			return true
		})
		return out, text
	}
	return nil, ""
}

// upstreamError maps the nested server error code in a control frame to a
// typed error, or nil when no code is present.
func upstreamError(frame gjson.Result) error {
	code := frame.Get(pathErrorCode)
	if !code.Exists() {
		return nil
	}
	switch code.Int() {
	case ErrorUsageLimitExceeded:
		return &UsageLimitExceeded{GeminiError{Msg: "usage limit exceeded for the selected model; try switching to another model"}}
	case ErrorModelInconsistent:
		return &ModelInvalid{GeminiError{Msg: "selected model is inconsistent or unavailable"}}
	case ErrorModelHeaderInvalid:
		return &ModelInvalid{GeminiError{Msg: "invalid model header string; update the selected model header"}}
	case ErrorIPTemporarilyBlocked:
		return &TemporarilyBlocked{GeminiError{Msg: "too many requests; IP temporarily blocked"}}
	default:
		return &GeminiError{Msg: fmt.Sprintf("server reported error code %d", code.Int())}
	}
}

const maxFragment = 512

func fragment(s string) string {
	if len(s) > maxFragment {
		return s[:maxFragment]
	}
	return s
}
