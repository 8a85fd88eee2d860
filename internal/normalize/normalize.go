// Package normalize repairs the two structural anomalies the editing widget is
// known to emit before markup leaves the editor.
//
// Two rewrites are applied:
//   - a <ul> or <ol> container holding content but no <li> children gets that
//     content wrapped in a single <li>
//   - a self-closing short-form video embed (<video src="x"/>) becomes the
//     canonical two-sided container <video>x</video>
//
// Only innermost lists are repaired. A list that contains another list is
// left as is even when it has stray content of its own, so
// <ul>a<ol>b</ol></ul> becomes <ul>a<ol><li>b</li></ol></ul>.
//
// Everything else, including malformed markup the rules do not recognize, is
// passed through byte for byte. Normalize never fails.
package normalize

import (
	"regexp"
	"sort"
	"strings"
)

var (
	// listTagRe matches opening and closing list tags. Group 1 is "/" for a
	// closing tag, group 2 is the list name.
	listTagRe = regexp.MustCompile(`(?i)<(/?)(ul|ol)(?:\s[^<>]*)?\s*>`)

	// itemOpenRe detects an <li> start tag anywhere in a list body.
	itemOpenRe = regexp.MustCompile(`(?i)<li[\s>/]`)

	// shortVideoRe matches a self-closing video embed whose only attribute is
	// its source.
	shortVideoRe = regexp.MustCompile(`(?i)<video\s+src\s*=\s*(?:"([^"]*)"|'([^']*)')\s*/>`)
)

// Report counts the repairs Normalize applied to a document.
type Report struct {
	Lists  int
	Embeds int
}

// Changed reports whether any fragment was rewritten.
func (r Report) Changed() bool {
	return r.Lists > 0 || r.Embeds > 0
}

// Normalize returns raw with empty list containers and short-form video embeds
// rewritten. Well-formed input is returned unchanged and the function is
// idempotent.
func Normalize(raw string) string {
	out, _ := NormalizeWithReport(raw)
	return out
}

// NormalizeWithReport is Normalize plus a count of the rewritten fragments.
func NormalizeWithReport(raw string) (string, Report) {
	var rep Report
	out, n := repairLists(raw)
	rep.Lists = n
	out, n = expandVideos(out)
	rep.Embeds = n
	return out, rep
}

type span struct {
	start, end int // whole fragment
	bodyStart  int
	bodyEnd    int
}

type openTag struct {
	name      string
	start     int
	bodyStart int
	nested    bool
}

// repairLists finds innermost list containers and wraps orphaned bodies. Only
// lists with no nested list are candidates so rewrites never overlap.
func repairLists(raw string) (string, int) {
	locs := listTagRe.FindAllStringSubmatchIndex(raw, -1)
	if len(locs) == 0 {
		return raw, 0
	}

	var stack []openTag
	var repairs []span
	for _, loc := range locs {
		closing := loc[3] > loc[2]
		name := strings.ToLower(raw[loc[4]:loc[5]])

		if !closing {
			if len(stack) > 0 {
				stack[len(stack)-1].nested = true
			}
			stack = append(stack, openTag{name: name, start: loc[0], bodyStart: loc[1]})
			continue
		}

		// Unwind to the matching opener. A stray closer with no opener is
		// left alone.
		idx := -1
		for i := len(stack) - 1; i >= 0; i-- {
			if stack[i].name == name {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		open := stack[idx]
		stack = stack[:idx]
		if idx > 0 {
			stack[idx-1].nested = true
		}
		if open.nested {
			continue
		}

		body := raw[open.bodyStart:loc[0]]
		if strings.TrimSpace(body) == "" || itemOpenRe.MatchString(body) {
			continue
		}
		repairs = append(repairs, span{
			start:     open.start,
			end:       loc[1],
			bodyStart: open.bodyStart,
			bodyEnd:   loc[0],
		})
	}

	if len(repairs) == 0 {
		return raw, 0
	}

	// Repairs are produced in closing order. Innermost lists never overlap,
	// so sorting by start is enough.
	sort.Slice(repairs, func(i, j int) bool { return repairs[i].start < repairs[j].start })

	var b strings.Builder
	b.Grow(len(raw) + len(repairs)*9)
	last := 0
	for _, r := range repairs {
		b.WriteString(raw[last:r.bodyStart])
		b.WriteString("<li>")
		b.WriteString(raw[r.bodyStart:r.bodyEnd])
		b.WriteString("</li>")
		last = r.bodyEnd
	}
	b.WriteString(raw[last:])
	return b.String(), len(repairs)
}

func expandVideos(raw string) (string, int) {
	n := 0
	out := shortVideoRe.ReplaceAllStringFunc(raw, func(m string) string {
		sub := shortVideoRe.FindStringSubmatch(m)
		src := sub[1]
		if src == "" {
			src = sub[2]
		}
		n++
		return "<video>" + src + "</video>"
	})
	if n == 0 {
		return raw, 0
	}
	return out, n
}
