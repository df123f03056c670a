package health

import (
	"regexp"

	"github.com/c360/amistreams/component"
)

// The health tree is served over HTTP on the metrics port, so component
// error strings are scrubbed before they leave the process. Errors from
// dials and logins tend to embed exactly what should not show up on a
// dashboard: manager addresses, NATS URLs, socket paths and the
// occasional inlined secret.
//
// Order matters: URL rules run before the path rule, which would
// otherwise eat the path half of a URL and leave the host behind.
var scrubRules = []struct {
	pattern *regexp.Regexp
	mask    string
}{
	{regexp.MustCompile(`https?://[^\s]+`), "[URL]"},
	{regexp.MustCompile(`nats://[^\s]+`), "[URL]"},
	{regexp.MustCompile(`wss?://[^\s]+`), "[URL]"},
	{regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`), "[PATH]"},
	{regexp.MustCompile(`[A-Z]:\\[^:\s]+`), "[PATH]"},
	{regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`), "[IP]"},
	{regexp.MustCompile(`:\d{2,5}\b`), "[PORT]"},
	{regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`), "[REDACTED]"},
}

func scrubMessage(msg string) string {
	for _, rule := range scrubRules {
		msg = rule.pattern.ReplaceAllString(msg, rule.mask)
	}
	return msg
}

// FromComponentHealth converts the lifecycle snapshot a component
// reports into a Status for the monitor. When the component carries a
// last error its scrubbed text becomes the message.
func FromComponentHealth(name string, ch component.HealthStatus) Status {
	var st Status
	if ch.Healthy {
		st = NewHealthy(name, "Component healthy")
	} else {
		st = NewUnhealthy(name, "Component unhealthy")
	}
	if ch.LastError != "" {
		st.Message = scrubMessage(ch.LastError)
	}

	st.Metrics = &Metrics{
		Uptime:       ch.Uptime,
		ErrorCount:   ch.ErrorCount,
		LastActivity: ch.LastCheck,
	}
	return st
}
