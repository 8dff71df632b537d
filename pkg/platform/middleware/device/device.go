// Package device classifies the software on the other end of a request.
// Verification is public, so audit events record a coarse verifier class
// instead of the raw User-Agent.
package device

import (
	"strings"

	"github.com/mssola/useragent"
)

// Class is a coarse user-agent classification.
type Class string

const (
	ClassBrowser Class = "browser"
	ClassMobile  Class = "mobile"
	ClassBot     Class = "bot"
	ClassClient  Class = "api_client"
	ClassUnknown Class = "unknown"
)

var apiClients = []string{"curl", "wget", "python-requests", "go-http-client", "okhttp", "postman", "axios", "node-fetch"}

// Classify maps a User-Agent header to a Class.
func Classify(userAgent string) Class {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return ClassUnknown
	}
	lower := strings.ToLower(userAgent)
	for _, c := range apiClients {
		if strings.HasPrefix(lower, c) {
			return ClassClient
		}
	}

	ua := useragent.New(userAgent)
	switch {
	case ua.Bot():
		return ClassBot
	case ua.Mobile():
		return ClassMobile
	}
	if name, _ := ua.Browser(); name != "" && ua.OS() != "" {
		return ClassBrowser
	}
	return ClassUnknown
}
