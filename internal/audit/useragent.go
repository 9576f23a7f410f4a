package audit

import (
	"github.com/mssola/useragent"
)

// DescribeUserAgent reduces a User-Agent header to a browser family and an
// OS platform, which is all audit records keep of it.
func DescribeUserAgent(raw string) (browser, platform string) {
	if raw == "" {
		return "unknown", "unknown"
	}
	ua := useragent.New(raw)
	if ua.Bot() {
		return "bot", ua.OS()
	}
	name, _ := ua.Browser()
	if name == "" {
		name = "unknown"
	}
	platform = ua.OS()
	if platform == "" {
		platform = "unknown"
	}
	return name, platform
}
