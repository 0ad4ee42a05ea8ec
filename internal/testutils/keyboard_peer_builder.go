//go:build test

package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/srg/blehid/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
)

// DefaultKeyboardAddress is the address the default keyboard advertises from
const DefaultKeyboardAddress = "A4:C1:38:00:00:01"

// DefaultKeyboardProfile is a remote HID keyboard: service 0x10-0x30 with the
// boot input value at 0x21 and its CCCD right after it
const DefaultKeyboardProfile = `{
	"services": [
		{
			"uuid": "1812", "handle": 16, "end_handle": 48,
			"characteristics": [
				{ "uuid": "2A4A", "properties": "read", "handle": 17, "value_handle": 18 },
				{ "uuid": "2A4D", "properties": "read,notify", "handle": 19, "value_handle": 20,
				  "descriptors": [ { "uuid": "2902", "handle": 21 }, { "uuid": "2908", "handle": 22 } ] },
				{ "uuid": "2A22", "properties": "read,notify", "handle": 32, "value_handle": 33,
				  "descriptors": [ { "uuid": "2902", "handle": 34 } ] },
				{ "uuid": "2A32", "properties": "read,write,write-without-response", "handle": 35, "value_handle": 36 }
			]
		}
	]
}`

type DescriptorConfig struct {
	UUID   string `json:"uuid"`
	Handle uint16 `json:"handle"`
}

type CharacteristicConfig struct {
	UUID        string             `json:"uuid"`
	Properties  string             `json:"properties,omitempty"` // e.g. "read,notify"
	Handle      uint16             `json:"handle"`
	ValueHandle uint16             `json:"value_handle"`
	Descriptors []DescriptorConfig `json:"descriptors,omitempty"`
}

type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Handle          uint16                 `json:"handle"`
	EndHandle       uint16                 `json:"end_handle"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// PeerProfileConfig is the GATT database of the mocked remote device
type PeerProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// KeyboardPeerBuilder builds a mocked ble.Device that scans to the configured
// advertisements and dials into the configured GATT database. Every Dial
// produces a new PeerLink.
type KeyboardPeerBuilder struct {
	profile PeerProfileConfig
	ads     []ble.Advertisement
	dialErr error

	mu     sync.Mutex
	links  []*PeerLink
	dialed chan *PeerLink
}

func NewKeyboardPeerBuilder() *KeyboardPeerBuilder {
	return &KeyboardPeerBuilder{dialed: make(chan *PeerLink, 16)}
}

// WithDefaultKeyboard loads DefaultKeyboardProfile and a "Keyboard" advertisement
func (b *KeyboardPeerBuilder) WithDefaultKeyboard() *KeyboardPeerBuilder {
	return b.FromJSON(DefaultKeyboardProfile).
		WithScanAdvertisements().
		WithNewAdvertisement().WithName("Keyboard").WithAddress(DefaultKeyboardAddress).WithRSSI(-48).WithServices("1812").Build().
		Build()
}

// WithService appends a service
func (b *KeyboardPeerBuilder) WithService(uuid string, handle, end uint16) *KeyboardPeerBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid, Handle: handle, EndHandle: end})
	return b
}

// WithCharacteristic appends a characteristic to the last service
func (b *KeyboardPeerBuilder) WithCharacteristic(uuid, properties string, handle, valueHandle uint16) *KeyboardPeerBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	svc := &b.profile.Services[len(b.profile.Services)-1]
	svc.Characteristics = append(svc.Characteristics, CharacteristicConfig{
		UUID: uuid, Properties: properties, Handle: handle, ValueHandle: valueHandle,
	})
	return b
}

// WithDescriptor appends a descriptor to the last characteristic
func (b *KeyboardPeerBuilder) WithDescriptor(uuid string, handle uint16) *KeyboardPeerBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithDescriptor: no service added yet")
	}
	svc := &b.profile.Services[len(b.profile.Services)-1]
	if len(svc.Characteristics) == 0 {
		panic("WithDescriptor: no characteristic added yet")
	}
	ch := &svc.Characteristics[len(svc.Characteristics)-1]
	ch.Descriptors = append(ch.Descriptors, DescriptorConfig{UUID: uuid, Handle: handle})
	return b
}

// FromJSON replaces the profile. Panics on invalid JSON.
func (b *KeyboardPeerBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *KeyboardPeerBuilder {
	var config PeerProfileConfig
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &config); err != nil {
		panic(fmt.Sprintf("KeyboardPeerBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	b.profile = config
	return b
}

// WithScanAdvertisements returns an array builder whose Build returns to this builder
func (b *KeyboardPeerBuilder) WithScanAdvertisements() *AdvertisementArrayBuilder[*KeyboardPeerBuilder] {
	ab := NewAdvertisementArrayBuilder[*KeyboardPeerBuilder]()
	ab.parent = b
	ab.buildFunc = func(parent *KeyboardPeerBuilder, ads []ble.Advertisement) *KeyboardPeerBuilder {
		parent.ads = append(parent.ads, ads...)
		return parent
	}
	return ab
}

// WithDialError makes every Dial fail with err
func (b *KeyboardPeerBuilder) WithDialError(err error) *KeyboardPeerBuilder {
	b.dialErr = err
	return b
}

func parseProperties(props string) ble.Property {
	var p ble.Property
	for _, name := range strings.Split(props, ",") {
		switch strings.TrimSpace(name) {
		case "read":
			p |= ble.CharRead
		case "write":
			p |= ble.CharWrite
		case "write-without-response":
			p |= ble.CharWriteNR
		case "notify":
			p |= ble.CharNotify
		case "indicate":
			p |= ble.CharIndicate
		}
	}
	return p
}

func (b *KeyboardPeerBuilder) services() []*ble.Service {
	var out []*ble.Service
	for _, sc := range b.profile.Services {
		svc := &ble.Service{UUID: ble.MustParse(sc.UUID), Handle: sc.Handle, EndHandle: sc.EndHandle}
		for _, cc := range sc.Characteristics {
			ch := &ble.Characteristic{
				UUID:        ble.MustParse(cc.UUID),
				Property:    parseProperties(cc.Properties),
				Handle:      cc.Handle,
				ValueHandle: cc.ValueHandle,
			}
			for _, dc := range cc.Descriptors {
				ch.Descriptors = append(ch.Descriptors, &ble.Descriptor{UUID: ble.MustParse(dc.UUID), Handle: dc.Handle})
			}
			svc.Characteristics = append(svc.Characteristics, ch)
		}
		out = append(out, svc)
	}
	return out
}

// Build creates the mocked device
func (b *KeyboardPeerBuilder) Build() *mocks.MockDevice {
	dev := &mocks.MockDevice{}

	dev.On("Scan", mock.Anything, false, mock.Anything).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		handler := args.Get(2).(ble.AdvHandler)
		for _, adv := range b.ads {
			if ctx.Err() != nil {
				return
			}
			handler(adv)
		}
		<-ctx.Done()
	}).Return(context.Canceled).Maybe()

	dev.On("Dial", mock.Anything, mock.Anything).Return(func(ctx context.Context, _ ble.Addr) (ble.Client, error) {
		if b.dialErr != nil {
			return nil, b.dialErr
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return b.newLink().Client, nil
	}, nil).Maybe()

	dev.On("Stop").Return(nil).Maybe()
	return dev
}

func (b *KeyboardPeerBuilder) newLink() *PeerLink {
	link := &PeerLink{
		Client:       &mocks.MockClient{},
		disconnected: make(chan struct{}),
		handlers:     make(map[string]ble.NotificationHandler),
	}
	client := link.Client

	svcs := b.services()
	client.On("DiscoverServices", mock.Anything).Return(svcs, nil).Maybe()
	for _, svc := range svcs {
		client.On("DiscoverCharacteristics", mock.Anything, svc).Return(svc.Characteristics, nil).Maybe()
		for _, ch := range svc.Characteristics {
			ch := ch
			client.On("DiscoverDescriptors", mock.Anything, ch).Return(ch.Descriptors, nil).Maybe()
			client.On("Subscribe", ch, false, mock.Anything).Run(func(args mock.Arguments) {
				link.mu.Lock()
				defer link.mu.Unlock()
				link.handlers[ch.UUID.String()] = args.Get(2).(ble.NotificationHandler)
			}).Return(nil).Maybe()
			client.On("Unsubscribe", ch, false).Run(func(mock.Arguments) {
				link.mu.Lock()
				defer link.mu.Unlock()
				delete(link.handlers, ch.UUID.String())
			}).Return(nil).Maybe()
		}
	}
	client.On("CancelConnection").Run(func(mock.Arguments) { link.Drop() }).Return(nil).Maybe()
	client.On("Disconnected").Return(link.disconnected).Maybe()

	b.mu.Lock()
	b.links = append(b.links, link)
	b.mu.Unlock()
	select {
	case b.dialed <- link:
	default:
	}
	return link
}

// Links returns every link dialed so far
func (b *KeyboardPeerBuilder) Links() []*PeerLink {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*PeerLink(nil), b.links...)
}

// Dialed delivers links as they are created
func (b *KeyboardPeerBuilder) Dialed() <-chan *PeerLink {
	return b.dialed
}

// PeerLink is one mocked connection to the remote keyboard
type PeerLink struct {
	Client *mocks.MockClient

	mu           sync.Mutex
	handlers     map[string]ble.NotificationHandler
	disconnected chan struct{}
	once         sync.Once
}

// Subscribed reports whether the central enabled notifications on uuid
func (l *PeerLink) Subscribed(uuid string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.handlers[ble.MustParse(uuid).String()]
	return ok
}

// Notify pushes a value on uuid; false when nobody subscribed
func (l *PeerLink) Notify(uuid string, data []byte) bool {
	l.mu.Lock()
	h, ok := l.handlers[ble.MustParse(uuid).String()]
	l.mu.Unlock()
	if !ok {
		return false
	}
	h(data)
	return true
}

// Drop closes the link as if the remote went away
func (l *PeerLink) Drop() {
	l.once.Do(func() { close(l.disconnected) })
}
