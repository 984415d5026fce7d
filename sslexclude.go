/*
 * Description: Panorama automation tasks: rule export, SSL decryption exclusions, BGP peer updates and commit job tracking.
 * Filename: sslexclude.go
 * Author: Bobby Williams | quipology@gmail.com
 *
 * Copyright (c) 2023
 */
package main

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultExcludeTemplate    = "Network"
	defaultExcludeName        = "*.asdf.com"
	defaultExcludeDescription = "This is a test"

	apiKeyHeader    = "X-PAN-KEY"
	mutationTimeout = 30 * time.Second
)

// This returns the xpath of a template's SSL decryption exclusion list
func exclusionXPath(template string) (string, error) {
	lit, err := xpathLiteral(template)
	if err != nil {
		return "", fmt.Errorf("template %q: %w", template, err)
	}
	return "/config/devices/entry[@name='localhost.localdomain']/template/entry[@name=" + queryValue(lit) + "]/config/shared/ssl-decrypt/ssl-exclude-cert", nil
}

// This returns the XML element of an excluded (not decrypted) server name,
// ready to be placed in the element query value
func exclusionEntry(name, description string) string {
	if description == "" {
		return fmt.Sprintf("<entry name='%s'><exclude>yes</exclude></entry>", queryText(name))
	}
	return fmt.Sprintf("<entry name='%s'><exclude>yes</exclude><description>%s</description></entry>", queryText(name), queryText(description))
}

// XPath 1.0 string literals have no escapes, only a choice of quote
func xpathLiteral(s string) (string, error) {
	switch {
	case !strings.Contains(s, "'"):
		return "'" + s + "'", nil
	case !strings.Contains(s, `"`):
		return `"` + s + `"`, nil
	}
	return "", errors.New("cannot hold both quote characters in an xpath")
}

// Percent-encodes the bytes that would end or alter a query value
var queryEscaper = strings.NewReplacer("%", "%25", "&", "%26", "#", "%23", "+", "%2B", ";", "%3B")

func queryValue(s string) string {
	return queryEscaper.Replace(s)
}

// XML-escapes s for use as text or a quoted attribute, then makes it query safe
func queryText(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return queryValue(b.String())
}

// buildEndpoint assembles the config-set URL exactly as given. Nothing in
// host, xpath or element is encoded.
func buildEndpoint(host, xpath, element string) string {
	return "https://" + host + "/api/?type=config&action=set&xpath=" + xpath + "&element=" + element
}

// wireSafe percent-encodes the bytes that cannot travel in a request line
// (spaces, angle brackets, double quotes, non-ASCII). Valid %XX escapes are
// left alone.
func wireSafe(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			b.WriteByte(c)
			continue
		}
		if c != '%' && uriSafe(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func uriSafe(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("-._~!$&'()*+,/:;=?@[]", c) >= 0
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

// This returns an HTTP client for the XML API; insecure skips certificate verification
func newMutationClient(insecure bool) *http.Client {
	return &http.Client{
		Timeout: mutationTimeout,
		Transport: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: insecure},
		},
	}
}

// Represents the raw reply of a mutation
type mutationResult struct {
	StatusCode int
	Body       []byte
}

// sendMutation issues one GET to endpoint with the API key header. The reply
// is returned as-is, whatever its status.
func sendMutation(ctx context.Context, c *http.Client, endpoint, apiKey string) (mutationResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wireSafe(endpoint), nil)
	if err != nil {
		return mutationResult{}, err
	}
	req.Header.Set(apiKeyHeader, apiKey)

	resp, err := c.Do(req)
	if err != nil {
		return mutationResult{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return mutationResult{}, fmt.Errorf("read reply: %w", err)
	}
	return mutationResult{StatusCode: resp.StatusCode, Body: body}, nil
}
