package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/blescope/internal/bledb"
	"github.com/srg/blescope/internal/device"
)

var propertyBits = []struct {
	ble ble.Property
	dev device.Properties
}{
	{ble.CharBroadcast, device.PropBroadcast},
	{ble.CharRead, device.PropRead},
	{ble.CharWriteNR, device.PropWriteWithoutResponse},
	{ble.CharWrite, device.PropWrite},
	{ble.CharNotify, device.PropNotify},
	{ble.CharIndicate, device.PropIndicate},
	{ble.CharSignedWrite, device.PropAuthenticatedSignedWrites},
	{ble.CharExtended, device.PropExtendedProperties},
}

// ConvertProperties maps go-ble property flags to device.Properties
func ConvertProperties(p ble.Property) device.Properties {
	var props device.Properties
	for _, bit := range propertyBits {
		if p&bit.ble != 0 {
			props |= bit.dev
		}
	}
	return props
}

// ConvertProfile flattens a discovered go-ble profile into the device GATT
// model. Service and characteristic order is preserved as discovered; each
// characteristic keeps its *ble.Characteristic as Handle for subscription.
func ConvertProfile(p *ble.Profile) []device.Service {
	if p == nil {
		return nil
	}

	services := make([]device.Service, 0, len(p.Services))
	for _, bleSvc := range p.Services {
		if bleSvc == nil {
			continue
		}
		svc := device.Service{
			UUID:            device.NormalizeUUID(bleSvc.UUID.String()),
			Characteristics: make([]device.Characteristic, 0, len(bleSvc.Characteristics)),
		}
		for _, bleChar := range bleSvc.Characteristics {
			if bleChar == nil {
				continue
			}
			svc.Characteristics = append(svc.Characteristics, convertCharacteristic(bleChar))
		}
		services = append(services, svc)
	}
	return services
}

func convertCharacteristic(c *ble.Characteristic) device.Characteristic {
	char := device.Characteristic{
		UUID:       device.NormalizeUUID(c.UUID.String()),
		Properties: ConvertProperties(c.Property),
		Handle:     c,
	}

	hasCCCD := false
	for _, d := range c.Descriptors {
		if d == nil {
			continue
		}
		uuid := device.NormalizeUUID(d.UUID.String())
		if uuid == bledb.ClientCharacteristicConfigUUID {
			hasCCCD = true
		}
		char.Descriptors = append(char.Descriptors, uuid)
	}
	// Some stacks keep the CCCD only in the dedicated field
	if c.CCCD != nil && !hasCCCD {
		char.Descriptors = append(char.Descriptors, bledb.ClientCharacteristicConfigUUID)
	}
	return char
}
