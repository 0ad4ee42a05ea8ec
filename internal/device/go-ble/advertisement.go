package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/blehid/internal/central"
)

// advertisementEvent converts a go-ble scan result
func advertisementEvent(adv ble.Advertisement) central.AdvertisementReceived {
	ev := central.AdvertisementReceived{
		Name: adv.LocalName(),
		RSSI: adv.RSSI(),
	}
	if addr := adv.Addr(); addr != nil {
		ev.Addr = addr.String()
	}
	return ev
}

// advertisedServices lists the 16-bit service UUIDs of adv
func advertisedServices(adv ble.Advertisement) []string {
	out := make([]string, 0, len(adv.Services()))
	for _, u := range adv.Services() {
		if u16, ok := fromBLEUUID(u); ok {
			out = append(out, u16.String())
			continue
		}
		out = append(out, u.String())
	}
	return out
}
