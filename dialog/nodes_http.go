// ABOUTME: The http-response node: one synchronous HTTP call per evaluation, with response
// ABOUTME: routing by regex, jsonpath, or xpath pattern matchers.
package dialog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/antchfx/htmlquery"
)

// httpUserAgent identifies engine-originated requests.
const httpUserAgent = "Parley Dialog Engine"

// parseHTTPResponseBranch builds the only node that performs network I/O:
// it fetches a URL and routes on the first pattern that matches the
// response body.
func parseHTTPResponseBranch(def map[string]any) (Node, error) {
	if nodeTypeOf(def) != "http-response" {
		return nil, nil
	}
	base, err := newBaseNode("http-response", def)
	if err != nil {
		return nil, err
	}
	rawURL, err := requireString(def, "url")
	if err != nil {
		return nil, err
	}
	noMatchID, err := optStringPtr(def, "no_match")
	if err != nil {
		return nil, err
	}
	node := &httpResponseBranchNode{
		baseNode:  base,
		url:       rawURL,
		branches:  actionMaps(def["actions"]),
		noMatchID: noMatchID,
		timeout:   defaultResponseTimeout,
		method:    http.MethodGet,
		matcher:   "re",
	}
	timeoutNodeID, err := optStringPtr(def, "timeout_node_id")
	if err != nil {
		return nil, err
	}
	if _, present := def["timeout"]; present && timeoutNodeID != nil {
		node.timeout = optFloat(def, "timeout", defaultResponseTimeout)
		node.timeoutNodeID = timeoutNodeID
		node.timeoutIterations, err = timeoutBudget(def)
		if err != nil {
			return nil, err
		}
	}
	if method, ok := def["method"].(string); ok && method != "" {
		node.method = strings.ToUpper(method)
	}
	node.headers = stringList(def["headers"])
	node.parameters = stringList(def["parameters"])
	if matcher, ok := def["pattern_matcher"].(string); ok && matcher != "" {
		node.matcher = matcher
	}
	return node, nil
}

type httpResponseBranchNode struct {
	baseNode
	url               string
	branches          []map[string]any
	noMatchID         *string
	timeout           float64
	timeoutNodeID     *string
	timeoutIterations *int
	method            string
	headers           []string
	parameters        []string
	matcher           string
}

func (n *httpResponseBranchNode) Evaluate(ctx context.Context, in EvalInput) (*Transition, error) {
	parameters := splitPairs(n.parameters)
	headers := map[string]string{"User-Agent": httpUserAgent}
	for k, v := range splitPairs(n.headers) {
		headers[k] = v
	}

	status, body, err := n.fetch(ctx, parameters, headers)
	if err != nil {
		var netErr net.Error
		if (errors.As(err, &netErr) && netErr.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
			return &Transition{
				NewStateID: n.timeoutNodeID,
				Refresh:    true,
				Metadata: map[string]any{
					"reason":           ReasonTimeout,
					"timeout_duration": n.timeout,
				},
			}, nil
		}
		in.Logger.Warn("http-response request failed",
			"node", n.id, "url", n.url, "error", err.Error())
		return &Transition{
			NewStateID: n.noMatchID,
			Refresh:    true,
			Metadata: map[string]any{
				"reason": ReasonError,
				"error":  err.Error(),
			},
		}, nil
	}

	if status >= 200 && status < 300 {
		matched, err := n.matchBranch(body)
		if err != nil {
			in.Logger.Warn("http-response match failed",
				"node", n.id, "matcher", n.matcher, "error", err.Error())
			return &Transition{
				NewStateID: n.noMatchID,
				Refresh:    true,
				Metadata: map[string]any{
					"reason": ReasonError,
					"error":  err.Error(),
				},
			}, nil
		}
		if matched != nil {
			return &Transition{
				NewStateID: actionDest(matched, "action"),
				Metadata: map[string]any{
					"reason":           ReasonValidResponse,
					"url":              n.url,
					"method":           n.method,
					"parameters":       parameters,
					"headers":          headers,
					"http-status-code": status,
					"response":         string(body),
				},
			}, nil
		}
	}

	if n.noMatchID != nil {
		return &Transition{
			NewStateID: n.noMatchID,
			Refresh:    true,
			Metadata: map[string]any{
				"reason":           ReasonNoMatch,
				"url":              n.url,
				"method":           n.method,
				"parameters":       parameters,
				"headers":          headers,
				"http-status-code": status,
				"response":         string(body),
			},
		}, nil
	}
	return nil, nil
}

// fetch issues the configured request: parameters travel as the query
// string on GET and as a form body on POST.
func (n *httpResponseBranchNode) fetch(ctx context.Context, parameters, headers map[string]string) (int, []byte, error) {
	form := url.Values{}
	for k, v := range parameters {
		form.Set(k, v)
	}

	var req *http.Request
	var err error
	if n.method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, n.url, strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		target := n.url
		if len(form) > 0 {
			separator := "?"
			if strings.Contains(target, "?") {
				separator = "&"
			}
			target += separator + form.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, n.method, target, nil)
	}
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: time.Duration(n.timeout * float64(time.Second))}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// matchBranch returns the first branch whose pattern matches the response
// body under the configured matcher, or nil when none do.
func (n *httpResponseBranchNode) matchBranch(body []byte) (map[string]any, error) {
	switch n.matcher {
	case "jsonpath":
		var doc any
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("parse response JSON: %w", err)
		}
		for _, branch := range n.branches {
			pattern, _ := branch["pattern"].(string)
			value, err := jsonpath.Get(pattern, doc)
			if err != nil {
				continue // path not present in this document
			}
			if jsonpathMatched(value) {
				return branch, nil
			}
		}
	case "xpath":
		doc, err := htmlquery.Parse(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("parse response HTML: %w", err)
		}
		for _, branch := range n.branches {
			pattern, _ := branch["pattern"].(string)
			nodes, err := htmlquery.QueryAll(doc, pattern)
			if err != nil {
				return nil, fmt.Errorf("xpath %q: %w", pattern, err)
			}
			if len(nodes) > 0 {
				return branch, nil
			}
		}
	default:
		text := string(body)
		for _, branch := range n.branches {
			pattern, _ := branch["pattern"].(string)
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("pattern %q: %w", pattern, err)
			}
			if re.MatchString(text) {
				return branch, nil
			}
		}
	}
	return nil, nil
}

// jsonpathMatched treats an existing path as a match unless it resolved to
// an empty collection.
func jsonpathMatched(value any) bool {
	switch tv := value.(type) {
	case nil:
		return false
	case []any:
		return len(tv) > 0
	default:
		return true
	}
}

func (n *httpResponseBranchNode) Actions() []Action { return nil }

func (n *httpResponseBranchNode) NextNodes() []NextNode {
	var nodes []NextNode
	if n.noMatchID != nil {
		nodes = append(nodes, NextNode{ID: *n.noMatchID, Label: "Invalid Response"})
	}
	if n.timeoutNodeID != nil {
		nodes = append(nodes, NextNode{ID: *n.timeoutNodeID, Label: "Response Timed Out"})
	}
	for _, branch := range n.branches {
		if dest := actionDest(branch, "action"); dest != nil {
			pattern, _ := branch["pattern"].(string)
			nodes = append(nodes, NextNode{ID: *dest, Label: "Response Matched Pattern: " + pattern})
		}
	}
	return nodes
}

func (n *httpResponseBranchNode) Prefix(prefix string) {
	n.baseNode.Prefix(prefix)
	if n.noMatchID != nil {
		n.noMatchID = strPtr(prefix + *n.noMatchID)
	}
	if n.timeoutNodeID != nil {
		n.timeoutNodeID = strPtr(prefix + *n.timeoutNodeID)
	}
	prefixDefKey(n.def, "no_match", prefix)
	prefixDefKey(n.def, "timeout_node_id", prefix)
	prefixActionDests(n.branches, "action", prefix)
}

func (n *httpResponseBranchNode) SearchText() string {
	parts := []string{n.baseNode.SearchText(), "http-response", n.url}
	for _, branch := range n.branches {
		if pattern, ok := branch["pattern"].(string); ok {
			parts = append(parts, pattern)
		}
	}
	return strings.Join(parts, "\n")
}

// splitPairs converts "key=value" strings into a map, splitting on the
// first equals sign. Entries without one are dropped.
func splitPairs(pairs []string) map[string]string {
	out := map[string]string{}
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if found {
			out[key] = value
		}
	}
	return out
}
