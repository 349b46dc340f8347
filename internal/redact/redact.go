// Package redact masks credential-bearing text before it is persisted to
// evidence records or trace logs, per §6's redaction requirement: the
// filter is applied immediately on capture, before any persistence.
package redact

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

const mask = "REDACTED"

// Policy tunes how aggressively a Redactor flags candidate secrets,
// driven by forge's Config rather than fixed constants, so an operator
// can loosen or tighten detection per deployment without a code change.
type Policy struct {
	// MinTokenLength is the shortest run of token-shaped characters
	// considered for entropy scoring.
	MinTokenLength int
	// EntropyThreshold is the minimum Shannon entropy (bits/char) for a
	// candidate token to be masked.
	EntropyThreshold float64
	// DisablePatternScan skips the gitleaks pass, leaving only entropy
	// scanning — for deployments where the pattern ruleset produces too
	// many false positives against the executor's own output.
	DisablePatternScan bool
}

// DefaultPolicy mirrors the reference implementation's fixed tuning:
// high enough to avoid flagging ordinary identifiers, low enough to catch
// API keys and bearer tokens.
func DefaultPolicy() Policy {
	return Policy{MinTokenLength: 12, EntropyThreshold: 4.5}
}

// Redactor masks credential-bearing text according to a Policy.
type Redactor struct {
	policy  Policy
	pattern *regexp.Regexp

	detectorOnce sync.Once
	detector     *detect.Detector
}

// New builds a Redactor for policy. A zero-value MinTokenLength/
// EntropyThreshold falls back to DefaultPolicy's tuning.
func New(policy Policy) *Redactor {
	if policy.MinTokenLength <= 0 {
		policy.MinTokenLength = DefaultPolicy().MinTokenLength
	}
	if policy.EntropyThreshold <= 0 {
		policy.EntropyThreshold = DefaultPolicy().EntropyThreshold
	}
	return &Redactor{
		policy:  policy,
		pattern: regexp.MustCompile(fmt.Sprintf(`[A-Za-z0-9/+_=-]{%d,}`, policy.MinTokenLength)),
	}
}

var defaultRedactor = New(DefaultPolicy())

func (r *Redactor) getDetector() *detect.Detector {
	r.detectorOnce.Do(func() {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			return
		}
		r.detector = d
	})
	return r.detector
}

type span struct{ start, end int }

// String returns s with credential-shaped substrings replaced by REDACTED.
// Two independent passes run and their hits are unioned: Shannon-entropy
// scanning over token-shaped substrings, and (unless the policy disables
// it) gitleaks' pattern rules for ~180 known secret formats.
func (r *Redactor) String(s string) string {
	var spans []span

	for _, loc := range r.pattern.FindAllStringIndex(s, -1) {
		if shannonEntropy(s[loc[0]:loc[1]]) > r.policy.EntropyThreshold {
			spans = append(spans, span{loc[0], loc[1]})
		}
	}

	if !r.policy.DisablePatternScan {
		if d := r.getDetector(); d != nil {
			for _, finding := range d.DetectString(s) {
				if finding.Secret == "" {
					continue
				}
				from := 0
				for {
					idx := strings.Index(s[from:], finding.Secret)
					if idx < 0 {
						break
					}
					abs := from + idx
					spans = append(spans, span{abs, abs + len(finding.Secret)})
					from = abs + len(finding.Secret)
				}
			}
		}
	}

	if len(spans) == 0 {
		return s
	}
	return applySpans(s, spans)
}

// Bytes redacts in place where possible, per the convenience wrapper
// pattern used by the source this package is grounded on.
func (r *Redactor) Bytes(b []byte) []byte {
	out := r.String(string(b))
	if out == string(b) {
		return b
	}
	return []byte(out)
}

// EnvKeys additionally masks the values of configured environment-style
// keys appearing as `KEY=value` or `KEY: value` in text, for logs that
// quote configuration rather than raw credential strings.
func (r *Redactor) EnvKeys(s string, keys []string) string {
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		pattern := regexp.MustCompile(`(?i)\b(` + regexp.QuoteMeta(key) + `)\s*[:=]\s*\S+`)
		s = pattern.ReplaceAllString(s, "$1="+mask)
	}
	return s
}

// String runs the default policy's Redactor. Call sites that need a
// deployment-tuned policy should build their own Redactor with New instead.
func String(s string) string { return defaultRedactor.String(s) }

// Bytes runs the default policy's Redactor.
func Bytes(b []byte) []byte { return defaultRedactor.Bytes(b) }

// EnvKeys runs the default policy's Redactor.
func EnvKeys(s string, keys []string) string { return defaultRedactor.EnvKeys(s, keys) }

func applySpans(s string, spans []span) string {
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	merged := []span{spans[0]}
	for _, sp := range spans[1:] {
		last := &merged[len(merged)-1]
		if sp.start <= last.end {
			if sp.end > last.end {
				last.end = sp.end
			}
			continue
		}
		merged = append(merged, sp)
	}

	var b strings.Builder
	prev := 0
	for _, sp := range merged {
		b.WriteString(s[prev:sp.start])
		b.WriteString(mask)
		prev = sp.end
	}
	b.WriteString(s[prev:])
	return b.String()
}

func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	for _, r := range s {
		counts[r]++
	}
	var entropy float64
	length := float64(len(s))
	for _, c := range counts {
		p := float64(c) / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}
