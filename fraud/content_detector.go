package fraud

import (
	"context"
)

// detectContent implements the content sub-detector (spec §4.3):
// similarity to a prior submission in the worker's own history, and
// expertise-inconsistency between confidence and known skill. No content
// -> 0, with no error (this is the one detector with a mandatory path
// when content IS present, per spec §5, so a failure here still yields a
// score rather than aborting the pipeline).
func (d *Detector) detectContent(ctx context.Context, req Request) (float64, string) {
	if len(req.Content) == 0 {
		return 0, ""
	}

	shingles := shingleSet(req.Content, 3)

	d.contentMu.Lock()
	history := append([]string(nil), d.contentHistory[req.WorkerID]...)
	d.contentHistory[req.WorkerID] = appendBounded(history, shingleDigest(shingles), 50)
	d.contentMu.Unlock()

	var score float64
	var reason string

	for _, priorDigest := range history {
		sim := similarity(shingleDigest(shingles), priorDigest)
		if sim > d.cfg.MaxSimilarityScore {
			score = 0.8
			reason = "content highly similar to a prior submission"
			break
		}
	}

	if d.skills != nil {
		if skill, ok := d.skills.SkillFor(ctx, req.WorkerID, req.TaskType); ok {
			inconsistency := expertiseInconsistency(skill, req.Confidence)
			if inconsistency > 0.5 && 0.6 > score {
				score = 0.6
				reason = "submission inconsistent with worker's known expertise"
			}
		}
	}

	return score, reason
}

// shingleSet builds the set of overlapping n-byte shingles of content,
// used as a cheap, deterministic similarity fingerprint.
func shingleSet(content []byte, n int) map[string]struct{} {
	set := make(map[string]struct{})
	if len(content) < n {
		set[string(content)] = struct{}{}
		return set
	}
	for i := 0; i+n <= len(content); i++ {
		set[string(content[i:i+n])] = struct{}{}
	}
	return set
}

// shingleDigest turns a shingle set into a sorted, joined string so two
// equal sets always produce the same digest regardless of map iteration
// order.
func shingleDigest(set map[string]struct{}) string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	return joinSorted(keys)
}

func joinSorted(keys []string) string {
	// Insertion sort is fine here: shingle counts are small (content
	// payloads are capped well below a size where this would matter).
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	out := ""
	for _, k := range keys {
		out += k + "\x00"
	}
	return out
}

// similarity computes a Jaccard-like overlap between two shingle digests
// by re-splitting on the NUL separator.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	as := splitShingles(a)
	bs := splitShingles(b)
	if len(as) == 0 || len(bs) == 0 {
		return 0
	}
	bset := make(map[string]struct{}, len(bs))
	for _, s := range bs {
		bset[s] = struct{}{}
	}
	common := 0
	for _, s := range as {
		if _, ok := bset[s]; ok {
			common++
		}
	}
	union := len(as) + len(bs) - common
	if union == 0 {
		return 0
	}
	return float64(common) / float64(union)
}

func splitShingles(digest string) []string {
	var out []string
	start := 0
	for i := 0; i < len(digest); i++ {
		if digest[i] == 0 {
			if i > start {
				out = append(out, digest[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func appendBounded(history []string, v string, cap int) []string {
	history = append(history, v)
	if len(history) > cap {
		history = history[len(history)-cap:]
	}
	return history
}

// expertiseInconsistency compares a submission's stated confidence against
// the worker's recorded skill for the task type: a low-skill worker
// submitting with high confidence (or vice versa) is inconsistent.
func expertiseInconsistency(skill int, confidence float64) float64 {
	d := confidence - float64(skill)/100
	if d < 0 {
		d = -d
	}
	return d
}
