//go:build test

package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/srg/blehid/internal/testutils/mocks"
)

// AdvertisementBuilder builds mocked scan results. Only fields that were set
// get mock expectations.
type AdvertisementBuilder struct {
	name     *string
	address  *string
	rssi     *int
	services []string
}

func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{}
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.name = &name
	return b
}

func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.address = &addr
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = &rssi
	return b
}

// WithServices adds advertised service UUIDs, short ("1812") or full form
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.services = append(b.services, uuids...)
	return b
}

// FromJSON fills the builder from {"name","address","rssi","services"}.
// Panics on invalid JSON as this is intended for test data setup.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	var data struct {
		Name     *string  `json:"name"`
		Address  *string  `json:"address"`
		RSSI     *int     `json:"rssi"`
		Services []string `json:"services"`
	}
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &data); err != nil {
		panic(fmt.Sprintf("AdvertisementBuilder.FromJSON: %v", err))
	}
	b.name, b.address, b.rssi = data.Name, data.Address, data.RSSI
	b.services = append(b.services, data.Services...)
	return b
}

// Build creates the mocked ble.Advertisement
func (b *AdvertisementBuilder) Build() *mocks.MockAdvertisement {
	adv := &mocks.MockAdvertisement{}
	if b.name != nil {
		adv.On("LocalName").Return(*b.name).Maybe()
	}
	if b.address != nil {
		adv.On("Addr").Return(ble.NewAddr(*b.address)).Maybe()
	}
	if b.rssi != nil {
		adv.On("RSSI").Return(*b.rssi).Maybe()
	}
	uuids := make([]ble.UUID, 0, len(b.services))
	for _, s := range b.services {
		uuids = append(uuids, ble.MustParse(s))
	}
	adv.On("Services").Return(uuids).Maybe()
	return adv
}

// AdvertisementArrayBuilder collects advertisements and hands them to its parent on Build
type AdvertisementArrayBuilder[T any] struct {
	advertisements []ble.Advertisement
	parent         T
	buildFunc      func(T, []ble.Advertisement) T
}

func NewAdvertisementArrayBuilder[T any]() *AdvertisementArrayBuilder[T] {
	return &AdvertisementArrayBuilder[T]{}
}

func (ab *AdvertisementArrayBuilder[T]) WithAdvertisements(ads ...ble.Advertisement) *AdvertisementArrayBuilder[T] {
	ab.advertisements = append(ab.advertisements, ads...)
	return ab
}

// WithNewAdvertisement starts an advertisement whose Build returns to this array builder
func (ab *AdvertisementArrayBuilder[T]) WithNewAdvertisement() *AdvertisementArrayBuilderItem[T] {
	return &AdvertisementArrayBuilderItem[T]{AdvertisementBuilder: NewAdvertisementBuilder(), parent: ab}
}

// Build returns the parent when attached to one, otherwise the advertisements themselves
func (ab *AdvertisementArrayBuilder[T]) Build() T {
	if ab.buildFunc != nil {
		return ab.buildFunc(ab.parent, ab.advertisements)
	}
	var result interface{} = ab.advertisements
	return result.(T)
}

// AdvertisementArrayBuilderItem is an AdvertisementBuilder nested in an array builder
type AdvertisementArrayBuilderItem[T any] struct {
	*AdvertisementBuilder
	parent *AdvertisementArrayBuilder[T]
}

func (abi *AdvertisementArrayBuilderItem[T]) Build() *AdvertisementArrayBuilder[T] {
	abi.parent.advertisements = append(abi.parent.advertisements, abi.AdvertisementBuilder.Build())
	return abi.parent
}

func (abi *AdvertisementArrayBuilderItem[T]) WithName(name string) *AdvertisementArrayBuilderItem[T] {
	abi.AdvertisementBuilder.WithName(name)
	return abi
}

func (abi *AdvertisementArrayBuilderItem[T]) WithAddress(addr string) *AdvertisementArrayBuilderItem[T] {
	abi.AdvertisementBuilder.WithAddress(addr)
	return abi
}

func (abi *AdvertisementArrayBuilderItem[T]) WithRSSI(rssi int) *AdvertisementArrayBuilderItem[T] {
	abi.AdvertisementBuilder.WithRSSI(rssi)
	return abi
}

func (abi *AdvertisementArrayBuilderItem[T]) WithServices(uuids ...string) *AdvertisementArrayBuilderItem[T] {
	abi.AdvertisementBuilder.WithServices(uuids...)
	return abi
}

func (abi *AdvertisementArrayBuilderItem[T]) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementArrayBuilderItem[T] {
	abi.AdvertisementBuilder.FromJSON(jsonStrFmt, args...)
	return abi
}
