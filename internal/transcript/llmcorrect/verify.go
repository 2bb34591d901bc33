package llmcorrect

import "strings"

// anchor pairs a token index in the original sequence with the index of the
// same token in the corrected sequence.
type anchor struct {
	orig, corr int
}

// changeSpan is a maximal region between anchors where the two token
// sequences differ.
type changeSpan struct {
	origTokens []string
	corrTokens []string
}

// tokenLCS returns the anchors of a longest common subsequence of a and b.
// Transcripts are a few sentences long, so the O(m*n) table is fine.
func tokenLCS(a, b []string) []anchor {
	m, n := len(a), len(b)
	if m == 0 || n == 0 {
		return nil
	}

	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			switch {
			case a[i-1] == b[j-1]:
				dp[i][j] = dp[i-1][j-1] + 1
			case dp[i-1][j] >= dp[i][j-1]:
				dp[i][j] = dp[i-1][j]
			default:
				dp[i][j] = dp[i][j-1]
			}
		}
	}

	k := dp[m][n]
	if k == 0 {
		return nil
	}
	anchors := make([]anchor, k)
	for i, j := m, n; i > 0 && j > 0; {
		switch {
		case a[i-1] == b[j-1]:
			k--
			anchors[k] = anchor{orig: i - 1, corr: j - 1}
			i--
			j--
		case dp[i-1][j] >= dp[i][j-1]:
			i--
		default:
			j--
		}
	}
	return anchors
}

// segment is either an unchanged anchor token or a change span.
type segment struct {
	token string
	span  *changeSpan
}

// segments walks orig and corr along anchors and yields anchor tokens and the
// change spans between them, in order.
func segments(orig, corr []string, anchors []anchor) []segment {
	var out []segment
	oi, ci := 0, 0
	for _, a := range anchors {
		if oi < a.orig || ci < a.corr {
			out = append(out, segment{span: &changeSpan{origTokens: orig[oi:a.orig], corrTokens: corr[ci:a.corr]}})
		}
		out = append(out, segment{token: orig[a.orig]})
		oi, ci = a.orig+1, a.corr+1
	}
	if oi < len(orig) || ci < len(corr) {
		out = append(out, segment{span: &changeSpan{origTokens: orig[oi:], corrTokens: corr[ci:]}})
	}
	return out
}

// extractChangeSpans returns only the change spans between orig and corr.
func extractChangeSpans(orig, corr []string, anchors []anchor) []changeSpan {
	var spans []changeSpan
	for _, s := range segments(orig, corr, anchors) {
		if s.span != nil {
			spans = append(spans, *s.span)
		}
	}
	return spans
}

// normalizeForLookup lowercases s and strips trailing punctuation so that a
// span like "Cortecks." matches a correction declared as "cortecks".
func normalizeForLookup(s string) string {
	return strings.ToLower(strings.TrimRight(s, ".,;:!?\"')"))
}

// verifyCorrectedText keeps only the edits in corrected that match a declared
// correction and reverts everything else to original. It returns the verified
// text and the corrections that were actually applied.
func verifyCorrectedText(original, corrected string, corrections []Correction) (string, []Correction) {
	if original == corrected {
		return original, nil
	}

	type key struct{ orig, corr string }
	declared := make(map[key]Correction, len(corrections))
	for _, c := range corrections {
		declared[key{normalizeForLookup(c.Original), normalizeForLookup(c.Corrected)}] = c
	}

	origTokens := strings.Fields(original)
	corrTokens := strings.Fields(corrected)

	var out []string
	var verified []Correction
	for _, s := range segments(origTokens, corrTokens, tokenLCS(origTokens, corrTokens)) {
		if s.span == nil {
			out = append(out, s.token)
			continue
		}
		k := key{
			normalizeForLookup(strings.Join(s.span.origTokens, " ")),
			normalizeForLookup(strings.Join(s.span.corrTokens, " ")),
		}
		if c, ok := declared[k]; ok {
			out = append(out, s.span.corrTokens...)
			verified = append(verified, c)
		} else {
			out = append(out, s.span.origTokens...)
		}
	}
	return strings.Join(out, " "), verified
}
