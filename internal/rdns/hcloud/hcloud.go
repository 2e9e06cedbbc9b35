// Package hcloud implements rdns.Provider on top of the Hetzner Cloud API.
//
// The directory is the project's server list. A server advertises one IPv4
// address with an optional dns_ptr and one IPv6 network with a list of
// per-address dns_ptr entries. Updates are addressed to the matched server
// via the change_dns_ptr action.
package hcloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"go4.org/netipx"

	"github.com/yuriy-kovalchuk/yk-rdns-manager/internal/rdns"
)

const listPageSize = 50

func init() {
	rdns.Register("hcloud", func(log logr.Logger, settings map[string]string) (rdns.Provider, error) {
		return New(log, settings)
	})
}

// Provider implements rdns.Provider for Hetzner Cloud servers.
type Provider struct {
	client        *hcloud.Client
	endpoint      string
	waitForAction bool
	log           logr.Logger
}

// New creates a Hetzner Cloud provider from the given settings map.
// Required settings: token (falls back to $HCLOUD_TOKEN).
// Optional settings: endpoint, wait_for_action (default false).
func New(log logr.Logger, settings map[string]string) (*Provider, error) {
	token := settings["token"]
	if token == "" {
		token = os.Getenv("HCLOUD_TOKEN")
	}
	if token == "" {
		return nil, fmt.Errorf("hcloud: missing required setting 'token' (or HCLOUD_TOKEN)")
	}

	endpoint := strings.TrimRight(settings["endpoint"], "/")
	if endpoint == "" {
		endpoint = hcloud.Endpoint
	}

	var wait bool
	if v := settings["wait_for_action"]; v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("hcloud: invalid wait_for_action %q: %w", v, err)
		}
		wait = parsed
	}

	client := hcloud.NewClient(
		hcloud.WithToken(token),
		hcloud.WithEndpoint(endpoint),
		hcloud.WithApplication("yk-rdns-manager", ""),
		hcloud.WithRetryOpts(hcloud.RetryOpts{
			BackoffFunc: hcloud.ConstantBackoff(0),
			MaxRetries:  0,
		}),
	)

	return &Provider{
		client:        client,
		endpoint:      endpoint,
		waitForAction: wait,
		log:           log,
	}, nil
}

func (p *Provider) Name() string { return "hcloud" }

// Lookup lists all servers of the project and selects the one holding addr.
func (p *Provider) Lookup(ctx context.Context, addr netip.Addr) (*rdns.Match, error) {
	servers, pages, err := p.listServers(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]rdns.ServerRecord, 0, len(servers))
	for _, s := range servers {
		records = append(records, recordFromServer(s))
	}
	p.log.V(1).Info("listed servers", "count", len(records))

	match, err := rdns.FindRecord(records, addr)
	if err != nil {
		return nil, err
	}
	if match.Record.ID <= 0 {
		return nil, &rdns.Error{
			Reason: rdns.ReasonNotFound,
			Op:     "lookup",
			Msg:    fmt.Sprintf("server holding %s has no usable id (%d)", addr, match.Record.ID),
		}
	}
	match.Payload = listPayload(pages)
	return match, nil
}

// listServers returns every server of the project together with the raw
// body of each page.
func (p *Provider) listServers(ctx context.Context) ([]*hcloud.Server, []json.RawMessage, error) {
	url := p.endpoint + "/servers"

	var (
		all   []*hcloud.Server
		pages []json.RawMessage
	)
	opts := hcloud.ServerListOpts{ListOpts: hcloud.ListOpts{Page: 1, PerPage: listPageSize}}
	for {
		servers, resp, err := p.client.Server.List(ctx, opts)
		if err != nil {
			return nil, nil, apiError("lookup", url, resp, err)
		}
		all = append(all, servers...)
		pages = append(pages, json.RawMessage(orNull(rawBody(resp))))

		if resp == nil || resp.Meta.Pagination == nil || resp.Meta.Pagination.NextPage == 0 {
			return all, pages, nil
		}
		opts.Page = resp.Meta.Pagination.NextPage
	}
}

// listPayload is the single page body, or an array of page bodies when the
// list spanned several pages.
func listPayload(pages []json.RawMessage) json.RawMessage {
	if len(pages) == 1 {
		return pages[0]
	}
	data, err := json.Marshal(pages)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}

// SetPTR issues the change_dns_ptr action for the matched server.
func (p *Provider) SetPTR(ctx context.Context, match *rdns.Match, ptr string) (any, error) {
	url := fmt.Sprintf("%s/servers/%d/actions/change_dns_ptr", p.endpoint, match.Record.ID)
	server := &hcloud.Server{ID: match.Record.ID}

	action, resp, err := p.client.RDNS.ChangeDNSPtr(ctx, server, net.IP(match.Address.AsSlice()), hcloud.Ptr(ptr))
	if err != nil {
		return nil, apiError("update", url, resp, err)
	}

	status := statusOf(resp)
	body := rawBody(resp)
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, &rdns.Error{Reason: rdns.ReasonTransport, Op: "update", URL: url, StatusCode: status, Body: string(body), Msg: "unexpected response status"}
	}
	if bodyError(body) {
		return nil, &rdns.Error{Reason: rdns.ReasonVendorRejection, Op: "update", URL: url, StatusCode: status, Body: string(body), Msg: "API reported an error"}
	}
	payload := json.RawMessage(orNull(body))
	if action == nil {
		return payload, nil
	}
	if action.Status == hcloud.ActionStatusError {
		return payload, &rdns.Error{
			Reason:     rdns.ReasonVendorRejection,
			Op:         "update",
			URL:        url,
			StatusCode: status,
			Body:       string(body),
			Msg:        fmt.Sprintf("action %d failed: %s: %s", action.ID, action.ErrorCode, action.ErrorMessage),
		}
	}

	if p.waitForAction {
		p.log.V(1).Info("waiting for action", "action", action.ID)
		if err := p.client.Action.WaitFor(ctx, action); err != nil {
			reason := rdns.ReasonTransport
			var actionErr hcloud.ActionError
			if errors.As(err, &actionErr) {
				reason = rdns.ReasonVendorRejection
			}
			return payload, &rdns.Error{Reason: reason, Op: "update", URL: url, StatusCode: status, Msg: fmt.Sprintf("waiting for action %d", action.ID), Err: err}
		}
	}
	return payload, nil
}

// recordFromServer converts an API server into a directory record.
func recordFromServer(s *hcloud.Server) rdns.ServerRecord {
	rec := rdns.ServerRecord{ID: s.ID, Name: s.Name}

	ipv4 := s.PublicNet.IPv4
	if ip, ok := netip.AddrFromSlice(ipv4.IP); ok && !ip.IsUnspecified() {
		ra := rdns.RecordAddress{Addr: ip.Unmap()}
		if ipv4.DNSPtr != "" {
			ptr := ipv4.DNSPtr
			ra.PTR = &ptr
		}
		rec.Addresses = append(rec.Addresses, ra)
	}

	ipv6 := s.PublicNet.IPv6
	if ipv6.Network != nil {
		if prefix, ok := netipx.FromStdIPNet(ipv6.Network); ok {
			ra := rdns.RecordAddress{Network: prefix}
			for ip, ptr := range ipv6.DNSPtr {
				addr, err := netip.ParseAddr(ip)
				if err != nil {
					continue
				}
				ra.Entries = append(ra.Entries, rdns.PTREntry{Addr: addr, PTR: ptr})
			}
			sort.Slice(ra.Entries, func(i, j int) bool { return ra.Entries[i].Addr.Less(ra.Entries[j].Addr) })
			rec.Addresses = append(rec.Addresses, ra)
		}
	}
	return rec
}

// apiError classifies an error returned by hcloud-go.
func apiError(op, url string, resp *hcloud.Response, err error) error {
	rerr := &rdns.Error{Reason: rdns.ReasonTransport, Op: op, URL: url, StatusCode: statusOf(resp), Err: err}

	var apiErr hcloud.Error
	if errors.As(err, &apiErr) {
		rerr.Err = nil
		rerr.Msg = "request rejected"
		rerr.Body = fmt.Sprintf("%s: %s", apiErr.Code, apiErr.Message)
		if apiErr.Code == hcloud.ErrorCodeNotFound && op == "update" {
			rerr.Reason = rdns.ReasonNotFound
		}
	}
	return rerr
}

func statusOf(resp *hcloud.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}

// rawBody returns the response body that hcloud-go already read and
// buffered.
func rawBody(resp *hcloud.Response) []byte {
	if resp == nil || resp.Response == nil || resp.Body == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}
	return data
}

// bodyError reports an "error" member in a response body that came back
// with a success status.
func bodyError(data []byte) bool {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return false
	}
	return len(envelope.Error) > 0 && string(envelope.Error) != "null"
}

func orNull(body []byte) []byte {
	if len(bytes.TrimSpace(body)) == 0 || !json.Valid(body) {
		return []byte("null")
	}
	return body
}
