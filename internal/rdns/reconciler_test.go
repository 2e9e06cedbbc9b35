package rdns

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type setCall struct {
	RecordID int64
	Addr     netip.Addr
	PTR      string
}

// memoryProvider serves an in-memory directory and records update calls.
type memoryProvider struct {
	mu        sync.Mutex
	records   []ServerRecord
	lookupErr error
	setErr    error
	calls     []setCall
}

func (m *memoryProvider) Name() string { return "memory" }

func (m *memoryProvider) Lookup(_ context.Context, addr netip.Addr) (*Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	match, err := FindRecord(m.records, addr)
	if err != nil {
		return nil, err
	}
	match.Payload = map[string]any{"servers": len(m.records)}
	return match, nil
}

func (m *memoryProvider) SetPTR(_ context.Context, match *Match, ptr string) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, setCall{RecordID: match.Record.ID, Addr: match.Address, PTR: ptr})
	if m.setErr != nil {
		return nil, m.setErr
	}

	for i := range m.records {
		if m.records[i].ID != match.Record.ID {
			continue
		}
		for j := range m.records[i].Addresses {
			ra := &m.records[i].Addresses[j]
			if ra.Addr == match.Address {
				ra.PTR = strPtr(ptr)
				return map[string]string{"ip": match.Address.String(), "ptr": ptr}, nil
			}
			if ra.Network.IsValid() && ra.Network.Contains(match.Address) {
				for k := range ra.Entries {
					if ra.Entries[k].Addr == match.Address {
						ra.Entries[k].PTR = ptr
						return map[string]string{"ip": match.Address.String(), "ptr": ptr}, nil
					}
				}
				ra.Entries = append(ra.Entries, PTREntry{Addr: match.Address, PTR: ptr})
				return map[string]string{"ip": match.Address.String(), "ptr": ptr}, nil
			}
		}
	}
	return nil, errors.New("record vanished")
}

func newMemoryProvider(ptr *string) *memoryProvider {
	return &memoryProvider{records: []ServerRecord{
		{
			ID:   42,
			Name: "mail",
			Addresses: []RecordAddress{
				{Addr: netip.MustParseAddr("195.123.45.78"), PTR: ptr},
				{
					Network: netip.MustParsePrefix("2001:db8::/32"),
					Entries: []PTREntry{{Addr: netip.MustParseAddr("2001:db8::1"), PTR: "mailserver.example.com"}},
				},
			},
		},
	}}
}

func TestReconcile_UpdatesDifferentPTR(t *testing.T) {
	p := newMemoryProvider(strPtr("old.example.com"))
	r := NewReconciler(p, logr.Discard())

	res, err := r.Reconcile(context.Background(), DesiredState{Address: "195.123.45.78", PTR: "mailserver.example.com"}, false)
	require.NoError(t, err)

	assert.Equal(t, OutcomeChanged, res.Outcome)
	assert.True(t, res.Report().Changed)
	assert.Equal(t, "old.example.com", res.Previous)
	assert.Equal(t, int64(42), res.RecordID)
	assert.Equal(t, "78.45.123.195.in-addr.arpa.", res.ReverseName)

	require.Len(t, p.calls, 1)
	assert.Equal(t, setCall{RecordID: 42, Addr: netip.MustParseAddr("195.123.45.78"), PTR: "mailserver.example.com"}, p.calls[0])
	assert.Equal(t, map[string]string{"ip": "195.123.45.78", "ptr": "mailserver.example.com"}, res.Value)
}

func TestReconcile_UnchangedWhenEqual(t *testing.T) {
	p := newMemoryProvider(strPtr("mailserver.example.com"))
	r := NewReconciler(p, logr.Discard())

	res, err := r.Reconcile(context.Background(), DesiredState{Address: "195.123.45.78", PTR: "mailserver.example.com"}, false)
	require.NoError(t, err)

	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.False(t, res.Report().Changed)
	assert.Equal(t, "OK", res.Report().Msg)
	assert.Empty(t, p.calls)
}

func TestReconcile_UnchangedIgnoresCaseAndTrailingDot(t *testing.T) {
	p := newMemoryProvider(strPtr("MailServer.Example.com"))
	r := NewReconciler(p, logr.Discard())

	res, err := r.Reconcile(context.Background(), DesiredState{Address: "195.123.45.78", PTR: "mailserver.example.com."}, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.Empty(t, p.calls)
}

func TestReconcile_DryRunDoesNotWrite(t *testing.T) {
	p := newMemoryProvider(strPtr("old.example.com"))
	r := NewReconciler(p, logr.Discard())

	res, err := r.Reconcile(context.Background(), DesiredState{Address: "195.123.45.78", PTR: "mailserver.example.com"}, true)
	require.NoError(t, err)

	assert.Equal(t, OutcomeWouldChange, res.Outcome)
	assert.True(t, res.Report().Changed)
	assert.Equal(t, map[string]any{"servers": 1}, res.Value)
	assert.Empty(t, p.calls)
}

func TestReconcile_DryRunUnchanged(t *testing.T) {
	p := newMemoryProvider(strPtr("mailserver.example.com"))
	r := NewReconciler(p, logr.Discard())

	res, err := r.Reconcile(context.Background(), DesiredState{Address: "195.123.45.78", PTR: "mailserver.example.com"}, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.False(t, res.Report().Changed)
}

func TestReconcile_AbsentPTRIsSet(t *testing.T) {
	p := newMemoryProvider(nil)
	r := NewReconciler(p, logr.Discard())

	res, err := r.Reconcile(context.Background(), DesiredState{Address: "195.123.45.78", PTR: "mailserver.example.com"}, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeChanged, res.Outcome)
	assert.Empty(t, res.Previous)
	require.Len(t, p.calls, 1)
}

func TestReconcile_IPv6InNetworkUnchanged(t *testing.T) {
	p := newMemoryProvider(nil)
	r := NewReconciler(p, logr.Discard())

	res, err := r.Reconcile(context.Background(), DesiredState{Address: "2001:db8::1", PTR: "mailserver.example.com"}, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.False(t, res.Report().Changed)
	assert.Empty(t, p.calls)
}

func TestReconcile_IPv6NewEntryInNetwork(t *testing.T) {
	p := newMemoryProvider(nil)
	r := NewReconciler(p, logr.Discard())

	res, err := r.Reconcile(context.Background(), DesiredState{Address: "2001:db8::5", PTR: "five.example.com"}, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeChanged, res.Outcome)
	require.Len(t, p.calls, 1)
	assert.Equal(t, netip.MustParseAddr("2001:db8::5"), p.calls[0].Addr)
	assert.Equal(t, int64(42), p.calls[0].RecordID)
}

func TestReconcile_NotFound(t *testing.T) {
	p := newMemoryProvider(strPtr("old.example.com"))
	r := NewReconciler(p, logr.Discard())

	res, err := r.Reconcile(context.Background(), DesiredState{Address: "195.123.45.99", PTR: "mailserver.example.com"}, false)
	require.Error(t, err)
	assert.Equal(t, ReasonNotFound, ReasonOf(err))
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.False(t, res.Report().Changed)
	assert.True(t, res.Report().Failed)
	assert.Empty(t, p.calls)
}

func TestReconcile_NotFoundInDryRun(t *testing.T) {
	p := newMemoryProvider(strPtr("old.example.com"))
	r := NewReconciler(p, logr.Discard())

	_, err := r.Reconcile(context.Background(), DesiredState{Address: "195.123.45.99", PTR: "mailserver.example.com"}, true)
	assert.True(t, IsNotFound(err))
}

func TestReconcile_LookupTransportError(t *testing.T) {
	p := newMemoryProvider(nil)
	p.lookupErr = &Error{Reason: ReasonTransport, Op: "lookup", URL: "https://api.example.test/servers", StatusCode: 503}
	r := NewReconciler(p, logr.Discard())

	res, err := r.Reconcile(context.Background(), DesiredState{Address: "195.123.45.78", PTR: "mailserver.example.com"}, false)
	require.Error(t, err)
	assert.Equal(t, ReasonTransport, ReasonOf(err))
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Message, "https://api.example.test/servers -> 503")
	assert.Empty(t, p.calls)
}

func TestReconcile_UpdateRejected(t *testing.T) {
	p := newMemoryProvider(strPtr("old.example.com"))
	p.setErr = &Error{Reason: ReasonVendorRejection, Op: "update", StatusCode: 200, Body: `{"error":{"code":"invalid_input"}}`}
	r := NewReconciler(p, logr.Discard())

	res, err := r.Reconcile(context.Background(), DesiredState{Address: "195.123.45.78", PTR: "mailserver.example.com"}, false)
	require.Error(t, err)
	assert.Equal(t, ReasonVendorRejection, ReasonOf(err))
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Contains(t, err.Error(), "invalid_input")
	assert.Len(t, p.calls, 1)
}

func TestReconcile_InvalidInputNeverCallsProvider(t *testing.T) {
	tests := []DesiredState{
		{Address: "78.45.123.195.in-addr.arpa", PTR: "mailserver.example.com"},
		{Address: "195.123.456.789", PTR: "mailserver.example.com"},
		{Address: "195.123.45.78", PTR: ""},
		{Address: "195.123.45.78", PTR: "bad..name"},
	}

	for _, desired := range tests {
		t.Run(desired.Address+"/"+desired.PTR, func(t *testing.T) {
			p := newMemoryProvider(nil)
			p.lookupErr = errors.New("lookup must not be called")
			r := NewReconciler(p, logr.Discard())

			_, err := r.Reconcile(context.Background(), desired, false)
			require.Error(t, err)
			assert.Equal(t, ReasonInvalidInput, ReasonOf(err))
			assert.True(t, IsPermanent(err))
		})
	}
}

func TestReconcile_RoundTrip(t *testing.T) {
	p := newMemoryProvider(strPtr("old.example.com"))
	r := NewReconciler(p, logr.Discard())
	desired := DesiredState{Address: "195.123.45.78", PTR: "mailserver.example.com"}

	first, err := r.Reconcile(context.Background(), desired, false)
	require.NoError(t, err)
	assert.True(t, first.Report().Changed)

	second, err := r.Reconcile(context.Background(), desired, false)
	require.NoError(t, err)
	assert.False(t, second.Report().Changed)

	assert.Len(t, p.calls, 1)
}

func TestFailureReport(t *testing.T) {
	err := &Error{Reason: ReasonNotFound, Op: "lookup", Msg: "could not find server with address 10.0.0.1"}
	rep := FailureReport("hcloud", err)

	assert.False(t, rep.Changed)
	assert.True(t, rep.Failed)
	assert.Equal(t, "failed in call to hcloud API: lookup: could not find server with address 10.0.0.1", rep.Msg)
	assert.Nil(t, rep.Value)
}
