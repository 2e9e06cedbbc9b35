package robot

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"os"
	"strings"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-rdns-manager/internal/rdns"
)

// DefaultBaseURL is the Hetzner Robot webservice endpoint.
const DefaultBaseURL = "https://robot-ws.your-server.de"

// codeRDNSNotFound is returned for addresses of the account without a PTR.
// Unknown addresses come back as IP_NOT_FOUND.
const codeRDNSNotFound = "RDNS_NOT_FOUND"

func init() {
	rdns.Register("robot", func(log logr.Logger, settings map[string]string) (rdns.Provider, error) {
		return New(log, settings)
	})
}

// Provider implements rdns.Provider for the Hetzner Robot webservice.
type Provider struct {
	baseURL  string
	user     string
	password string
	client   *http.Client
	log      logr.Logger
}

// New creates a Robot provider from the given settings map.
// Required settings: user (alias username, env ROBOT_USER) and password
// (alias pass, env ROBOT_PASSWORD).
// Optional settings: base_url, skip_tls_verify (default false).
func New(log logr.Logger, settings map[string]string) (*Provider, error) {
	user := firstSetting(settings, "user", "username")
	if user == "" {
		user = os.Getenv("ROBOT_USER")
	}
	if user == "" {
		return nil, fmt.Errorf("robot: missing required setting 'user'")
	}
	password := firstSetting(settings, "password", "pass")
	if password == "" {
		password = os.Getenv("ROBOT_PASSWORD")
	}
	if password == "" {
		return nil, fmt.Errorf("robot: missing required setting 'password'")
	}

	baseURL := settings["base_url"]
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if v := settings["skip_tls_verify"]; v == "true" {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Provider{
		baseURL:  strings.TrimRight(baseURL, "/"),
		user:     user,
		password: password,
		client:   &http.Client{Transport: transport},
		log:      log,
	}, nil
}

func firstSetting(settings map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := settings[k]; v != "" {
			return v
		}
	}
	return ""
}

func (p *Provider) Name() string { return "robot" }

// rdnsEntry is the payload of the /rdns/{ip} resource.
type rdnsEntry struct {
	IP  string  `json:"ip"`
	PTR *string `json:"ptr"`
}

type rdnsResponse struct {
	RDNS rdnsEntry `json:"rdns"`
}

// errorResponse is the shape of every Robot error body.
type errorResponse struct {
	Error json.RawMessage `json:"error"`
}

type errorDetail struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (p *Provider) rdnsURL(addr netip.Addr) string {
	return p.baseURL + "/rdns/" + url.PathEscape(addr.String())
}

// doRequest builds and executes an HTTP request against the Robot API and
// returns the status code and the full response body.
func (p *Provider) doRequest(ctx context.Context, method, target string, form url.Values) (int, []byte, error) {
	var bodyReader io.Reader
	if form != nil {
		bodyReader = bytes.NewBufferString(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("robot: build request: %w", err)
	}
	req.SetBasicAuth(p.user, p.password)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("robot: %s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("robot: read %s response: %w", target, err)
	}
	return resp.StatusCode, body, nil
}

// Lookup fetches the rDNS entry of addr.
func (p *Provider) Lookup(ctx context.Context, addr netip.Addr) (*rdns.Match, error) {
	target := p.rdnsURL(addr)
	p.log.V(1).Info("fetching rDNS entry", "ip", addr.String())

	status, body, err := p.doRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &rdns.Error{Reason: rdns.ReasonTransport, Op: "lookup", URL: target, StatusCode: status, Err: err}
	}

	var rec rdns.ServerRecord
	switch {
	case status == http.StatusOK:
		var rr rdnsResponse
		if err := json.Unmarshal(body, &rr); err != nil {
			return nil, &rdns.Error{Reason: rdns.ReasonTransport, Op: "lookup", URL: target, StatusCode: status, Msg: "decode rDNS entry", Err: err}
		}
		ip, err := netip.ParseAddr(rr.RDNS.IP)
		if err != nil {
			return nil, &rdns.Error{Reason: rdns.ReasonTransport, Op: "lookup", URL: target, StatusCode: status, Msg: "rDNS entry has invalid ip", Err: err}
		}
		rec.Addresses = []rdns.RecordAddress{{Addr: ip, PTR: rr.RDNS.PTR}}

	case status == http.StatusNotFound && errorCode(body) == codeRDNSNotFound:
		// The address belongs to the account but has no PTR yet.
		rec.Addresses = []rdns.RecordAddress{{Addr: addr}}

	case status == http.StatusNotFound:
		return nil, &rdns.Error{Reason: rdns.ReasonNotFound, Op: "lookup", URL: target, StatusCode: status, Body: string(body),
			Msg: fmt.Sprintf("could not find server with address %s", addr)}

	default:
		return nil, &rdns.Error{Reason: rdns.ReasonTransport, Op: "lookup", URL: target, StatusCode: status, Body: string(body),
			Msg: "incorrect response from Robot API"}
	}

	match, err := rdns.FindRecord([]rdns.ServerRecord{rec}, addr)
	if err != nil {
		return nil, err
	}
	match.Payload = json.RawMessage(orNull(body))
	return match, nil
}

// SetPTR creates or updates the rDNS entry of the matched address.
func (p *Provider) SetPTR(ctx context.Context, match *rdns.Match, ptr string) (any, error) {
	target := p.rdnsURL(match.Address)

	status, body, err := p.doRequest(ctx, http.MethodPost, target, url.Values{"ptr": {ptr}})
	if err != nil {
		return nil, &rdns.Error{Reason: rdns.ReasonTransport, Op: "update", URL: target, StatusCode: status, Err: err}
	}

	if status != http.StatusOK && status != http.StatusCreated {
		return nil, &rdns.Error{Reason: rdns.ReasonTransport, Op: "update", URL: target, StatusCode: status, Body: string(body),
			Msg: "incorrect response from Robot API"}
	}
	if errorCode(body) != "" {
		return nil, &rdns.Error{Reason: rdns.ReasonVendorRejection, Op: "update", URL: target, StatusCode: status, Body: string(body),
			Msg: "API reported an error"}
	}

	p.log.V(1).Info("rDNS entry saved", "ip", match.Address.String(), "status", status)
	return json.RawMessage(orNull(body)), nil
}

// errorCode returns the Robot error code carried by body, if any.
func errorCode(body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return ""
	}
	if len(er.Error) == 0 || string(er.Error) == "null" {
		return ""
	}
	var detail errorDetail
	if err := json.Unmarshal(er.Error, &detail); err != nil || detail.Code == "" {
		return "UNKNOWN"
	}
	return detail.Code
}

func orNull(body []byte) []byte {
	if len(bytes.TrimSpace(body)) == 0 || !json.Valid(body) {
		return []byte("null")
	}
	return body
}
