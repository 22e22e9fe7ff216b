// Package local implements bot and shield checks in process from request
// metadata: user agent heuristics and pattern rules against the common
// injection families.
package local

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/Anas-Altaf/gatekeeper"
)

// DefaultDenyUserAgents are user agent fragments of scripted clients and scanners.
var DefaultDenyUserAgents = []string{
	"curl", "wget", "python-requests", "python-urllib", "aiohttp", "go-http-client",
	"httpie", "libwww-perl", "okhttp", "java/", "scrapy", "sqlmap", "nikto",
	"nmap", "masscan", "zgrab", "headlesschrome", "phantomjs", "selenium",
	"bot", "crawler", "spider",
}

// DefaultAllowUserAgents are search engines and link preview fetchers. They
// are checked before the deny list.
var DefaultAllowUserAgents = []string{
	"googlebot", "bingbot", "duckduckbot", "yandexbot", "baiduspider", "applebot",
	"facebookexternalhit", "twitterbot", "slackbot", "discordbot", "linkedinbot",
}

// Rule is one shield pattern.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
}

// DefaultRules cover SQL injection, XSS, path traversal and command injection.
var DefaultRules = []Rule{
	{
		Name:    "sqli",
		Pattern: regexp.MustCompile(`(?i)(\bunion\b.+\bselect\b|\bor\b\s+['"]?\w+['"]?\s*=\s*['"]?\w+|'\s*(or|and)\s*'|;\s*(drop|delete|insert|update)\s|\bsleep\s*\(|\bbenchmark\s*\(|information_schema|'\s*--)`),
	},
	{
		Name:    "xss",
		Pattern: regexp.MustCompile(`(?i)(<\s*script|<\s*iframe|<\s*svg[^>]*\bon\w+\s*=|javascript\s*:|\bon(error|load|mouseover|focus)\s*=)`),
	},
	{
		Name:    "path_traversal",
		Pattern: regexp.MustCompile(`(?i)(\.\./|\.\.\\|/etc/passwd|/proc/self/)`),
	},
	{
		Name:    "command_injection",
		Pattern: regexp.MustCompile(`(?i)([;|]\s*(cat|ls|rm|wget|curl|bash|sh|nc|whoami)\b|\$\(|\x60)`),
	},
}

// Detector is a gatekeeper.Detector working only on the request.
type Detector struct {
	blockEmptyUA bool
	deny         []string
	allow        []string
	rules        []Rule
	headers      []string
}

// Option configures a Detector.
type Option func(*Detector)

// WithBlockEmptyUserAgent flags requests without a user agent. Default true.
func WithBlockEmptyUserAgent(block bool) Option {
	return func(d *Detector) { d.blockEmptyUA = block }
}

// WithDenyUserAgents replaces the deny list. Empty keeps the default.
func WithDenyUserAgents(fragments ...string) Option {
	return func(d *Detector) {
		if len(fragments) > 0 {
			d.deny = lower(fragments)
		}
	}
}

// WithAllowUserAgents replaces the allow list. Empty keeps the default.
func WithAllowUserAgents(fragments ...string) Option {
	return func(d *Detector) {
		if len(fragments) > 0 {
			d.allow = lower(fragments)
		}
	}
}

// WithRules replaces the shield rules.
func WithRules(rules ...Rule) Option {
	return func(d *Detector) { d.rules = rules }
}

// WithInspectHeaders adds header values to the shield input.
func WithInspectHeaders(names ...string) Option {
	return func(d *Detector) { d.headers = append(d.headers, names...) }
}

// New creates a detector with the default lists and rules.
func New(opts ...Option) *Detector {
	d := &Detector{
		blockEmptyUA: true,
		deny:         DefaultDenyUserAgents,
		allow:        DefaultAllowUserAgents,
		rules:        DefaultRules,
		headers:      []string{"Referer"},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var _ gatekeeper.Detector = (*Detector)(nil)

// DetectBot implements gatekeeper.Detector.
func (d *Detector) DetectBot(ctx context.Context, req *gatekeeper.Request) (gatekeeper.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return gatekeeper.Verdict{}, err
	}

	ua := strings.ToLower(strings.TrimSpace(req.UserAgent))
	if ua == "" {
		if d.blockEmptyUA {
			return gatekeeper.Verdict{Flagged: true, Rule: "ua:empty"}, nil
		}
		return gatekeeper.Verdict{}, nil
	}

	for _, a := range d.allow {
		if strings.Contains(ua, a) {
			return gatekeeper.Verdict{}, nil
		}
	}
	for _, f := range d.deny {
		if strings.Contains(ua, f) {
			return gatekeeper.Verdict{Flagged: true, Rule: "ua:" + f}, nil
		}
	}
	return gatekeeper.Verdict{}, nil
}

// CheckShield implements gatekeeper.Detector.
func (d *Detector) CheckShield(ctx context.Context, req *gatekeeper.Request) (gatekeeper.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return gatekeeper.Verdict{}, err
	}

	inputs := []string{decode(req.Path), decode(req.RawQuery)}
	for _, name := range d.headers {
		for k, vs := range req.Header {
			if strings.EqualFold(k, name) {
				for _, v := range vs {
					inputs = append(inputs, decode(v))
				}
			}
		}
	}

	for _, in := range inputs {
		if in == "" {
			continue
		}
		for _, r := range d.rules {
			if r.Pattern.MatchString(in) {
				return gatekeeper.Verdict{Flagged: true, Rule: r.Name}, nil
			}
		}
	}
	return gatekeeper.Verdict{}, nil
}

// decode unescapes s twice to see through double encoding. Invalid escapes
// leave the input as is.
func decode(s string) string {
	for i := 0; i < 2; i++ {
		u, err := url.QueryUnescape(s)
		if err != nil || u == s {
			break
		}
		s = u
	}
	return s
}

func lower(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
