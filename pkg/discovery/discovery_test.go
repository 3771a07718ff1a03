package discovery

import (
	"context"
	"net"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTXTRoundTrip(t *testing.T) {
	info := Info{Device: "frontdoor", Item: "main_door", Version: 2, Port: 8080}

	txt := EncodeTXT(info)
	assert.Equal(t, "frontdoor", txt[TXTKeyDevice])
	assert.Equal(t, "main_door", txt[TXTKeyItem])
	assert.Equal(t, "2", txt[TXTKeyVersion])

	strs := TXTRecordsToStrings(txt)
	sort.Strings(strs)
	assert.Equal(t, []string{"dev=frontdoor", "item=main_door", "ver=2"}, strs)

	got, err := DecodeTXT(StringsToTXTRecords(strs))
	require.NoError(t, err)
	assert.Equal(t, "frontdoor", got.Device)
	assert.Equal(t, "main_door", got.Item)
	assert.Equal(t, 2, got.Version)
}

func TestTXTNeverCarriesKey(t *testing.T) {
	for _, s := range TXTRecordsToStrings(EncodeTXT(Info{Device: "d", Item: "i", Version: 2})) {
		k, _, _ := strings.Cut(s, "=")
		assert.Contains(t, []string{TXTKeyDevice, TXTKeyItem, TXTKeyVersion}, k)
	}
}

func TestDecodeTXT_Invalid(t *testing.T) {
	tests := []struct {
		name string
		txt  TXTRecordMap
		want error
	}{
		{"missing dev", TXTRecordMap{"item": "x", "ver": "2"}, ErrMissingRequired},
		{"empty dev", TXTRecordMap{"dev": "", "item": "x", "ver": "2"}, ErrMissingRequired},
		{"missing item", TXTRecordMap{"dev": "d", "ver": "2"}, ErrMissingRequired},
		{"missing ver", TXTRecordMap{"dev": "d", "item": "x"}, ErrMissingRequired},
		{"bad ver", TXTRecordMap{"dev": "d", "item": "x", "ver": "two"}, ErrInvalidVersion},
		{"zero ver", TXTRecordMap{"dev": "d", "item": "x", "ver": "0"}, ErrInvalidVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeTXT(tt.txt)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestStringsToTXTRecords(t *testing.T) {
	txt := StringsToTXTRecords([]string{"a=1", "flag", "b=x=y"})
	assert.Equal(t, TXTRecordMap{"a": "1", "flag": "", "b": "x=y"}, txt)
}

func TestInstanceName(t *testing.T) {
	assert.Equal(t, "doorctl-frontdoor", Info{Device: "frontdoor"}.InstanceName())
	assert.Equal(t, "Front Door", Info{Instance: "Front Door", Device: "frontdoor"}.InstanceName())

	assert.NoError(t, ValidateInstanceName(strings.Repeat("a", MaxInstanceNameLen)))
	assert.ErrorIs(t, ValidateInstanceName(strings.Repeat("a", MaxInstanceNameLen+1)), ErrInstanceNameTooLong)
	assert.ErrorIs(t, ValidateInstanceName(""), ErrMissingRequired)
}

func TestAdvertise_Invalid(t *testing.T) {
	a := NewMDNSAdvertiser(AdvertiserConfig{})
	ctx := context.Background()

	err := a.Advertise(ctx, Info{Device: "d", Item: "i", Version: 2})
	assert.ErrorIs(t, err, ErrInvalidPort)

	err = a.Advertise(ctx, Info{Device: strings.Repeat("d", 64), Item: "i", Version: 2, Port: 80})
	assert.ErrorIs(t, err, ErrInstanceNameTooLong)
}

func TestEntryToService(t *testing.T) {
	entry := &zeroconf.ServiceEntry{ServiceRecord: zeroconf.ServiceRecord{Instance: "doorctl-frontdoor", Service: ServiceType, Domain: Domain}}
	entry.HostName = "pi.local."
	entry.Port = 8080
	entry.Text = []string{"dev=frontdoor", "item=main_door", "ver=2"}
	entry.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	entry.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}

	svc := entryToService(entry)
	require.NotNil(t, svc)
	assert.Equal(t, "doorctl-frontdoor", svc.InstanceName)
	assert.Equal(t, "pi.local.", svc.Host)
	assert.Equal(t, uint16(8080), svc.Port)
	assert.Equal(t, []string{"192.168.1.20", "fe80::1"}, svc.Addresses)
	assert.Equal(t, "frontdoor", svc.Device)

	entry.Text = []string{"dev=frontdoor"}
	assert.Nil(t, entryToService(entry))
}

type fakeBrowser struct {
	services []*Service
}

func (f fakeBrowser) Browse(ctx context.Context) (<-chan *Service, error) {
	out := make(chan *Service)
	go func() {
		defer close(out)
		for _, s := range f.services {
			select {
			case out <- s:
			case <-ctx.Done():
				return
			}
		}
		<-ctx.Done()
	}()
	return out, nil
}

func TestFind(t *testing.T) {
	b := fakeBrowser{services: []*Service{
		{InstanceName: "doorctl-annex", Device: "annex"},
		{InstanceName: "doorctl-frontdoor", Device: "frontdoor"},
	}}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	svc, err := Find(ctx, b, "frontdoor")
	require.NoError(t, err)
	assert.Equal(t, "doorctl-frontdoor", svc.InstanceName)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	_, err = Find(ctx2, b, "garage")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestE2E_AdvertiseAndFind(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	adv := NewMDNSAdvertiser(AdvertiserConfig{TTL: DefaultTTL})
	defer adv.Stop()
	info := Info{Device: "e2e-door", Item: "main_door", Version: 2, Port: 18080}
	require.NoError(t, adv.Advertise(ctx, info))

	// Give mDNS time to propagate
	time.Sleep(500 * time.Millisecond)

	browseCtx, browseCancel := context.WithTimeout(ctx, 5*time.Second)
	defer browseCancel()
	svc, err := Find(browseCtx, NewMDNSBrowser(BrowserConfig{}), "e2e-door")
	require.NoError(t, err)
	assert.Equal(t, "doorctl-e2e-door", svc.InstanceName)
	assert.Equal(t, uint16(18080), svc.Port)
	assert.Equal(t, "main_door", svc.Item)
	assert.Equal(t, 2, svc.Version)
}
