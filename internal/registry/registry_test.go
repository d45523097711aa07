package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/srg/blescope/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type RegistryTestSuite struct {
	suite.Suite
	reg *Registry
}

func (s *RegistryTestSuite) SetupTest() {
	s.reg = New(Options{}, nil)
}

func addresses(ps []device.Peripheral) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Address
	}
	return out
}

func (s *RegistryTestSuite) TestOfferKeepsFirstSeenOrder() {
	s.True(s.reg.Offer(device.Peripheral{Address: "AA:03", Name: "C"}))
	s.True(s.reg.Offer(device.Peripheral{Address: "AA:01", Name: "A"}))
	s.True(s.reg.Offer(device.Peripheral{Address: "AA:02", Name: "B"}))

	s.Equal([]string{"AA:03", "AA:01", "AA:02"}, addresses(s.reg.Snapshot()))
}

func (s *RegistryTestSuite) TestRepeatSightingRefreshesWithoutReorder() {
	s.reg.Offer(device.Peripheral{Address: "AA:01", Name: "Old", RSSI: -80})
	s.reg.Offer(device.Peripheral{Address: "AA:02", Name: "Other"})

	added := s.reg.Offer(device.Peripheral{Address: "aa:01", Name: "New", RSSI: -40})
	s.False(added, "a known address MUST NOT be added again")

	snap := s.reg.Snapshot()
	s.Require().Len(snap, 2)
	s.Equal("AA:01", snap[0].Address, "position and original address spelling MUST be kept")
	s.Equal("New", snap[0].Name)
	s.Equal(-40, snap[0].RSSI)
}

func (s *RegistryTestSuite) TestEmptyNameNeverReplacesName() {
	s.reg.Offer(device.Peripheral{Address: "AA:01", Name: "Arduino", Services: []string{"180f"}})
	s.reg.Offer(device.Peripheral{Address: "AA:01", RSSI: -30})

	p, ok := s.reg.Get("AA:01")
	s.Require().True(ok)
	s.Equal("Arduino", p.Name)
	s.Equal(-30, p.RSSI)
	s.Equal([]string{"180f"}, p.Services)
}

func (s *RegistryTestSuite) TestUnnamedExcludedByDefault() {
	s.False(s.reg.Offer(device.Peripheral{Address: "AA:01"}))
	s.False(s.reg.Offer(device.Peripheral{Address: "AA:02", Name: "  "}))
	s.Equal(0, s.reg.Len())

	s.True(s.reg.Offer(device.Peripheral{Address: "AA:01", Name: "Late name"}),
		"a device MUST be admitted once it advertises a name")
	s.Equal(1, s.reg.Len())
}

func (s *RegistryTestSuite) TestIncludeUnnamed() {
	reg := New(Options{IncludeUnnamed: true}, nil)
	s.True(reg.Offer(device.Peripheral{Address: "AA:01"}))
	s.Equal(1, reg.Len())
}

func (s *RegistryTestSuite) TestEmptyAddressIgnored() {
	s.False(s.reg.Offer(device.Peripheral{Address: " ", Name: "ghost"}))
	s.Equal(0, s.reg.Len())
}

func (s *RegistryTestSuite) TestAllowBlockAndServiceFilters() {
	reg := New(Options{
		AllowList:    []string{"AA:01", "aa:02", "AA:03"},
		BlockList:    []string{"AA:03"},
		ServiceUUIDs: []string{"6E400001-B5A3-F393-E0A9-E50E24DCCA9E"},
	}, nil)

	s.True(reg.Offer(device.Peripheral{Address: "AA:01", Name: "uart", Services: []string{"6e400001b5a3f393e0a9e50e24dcca9e"}}))
	s.False(reg.Offer(device.Peripheral{Address: "AA:02", Name: "battery only", Services: []string{"180f"}}), "service filter MUST apply")
	s.False(reg.Offer(device.Peripheral{Address: "AA:03", Name: "blocked", Services: []string{"6e400001b5a3f393e0a9e50e24dcca9e"}}), "block list MUST win")
	s.False(reg.Offer(device.Peripheral{Address: "AA:04", Name: "not allowed", Services: []string{"6e400001b5a3f393e0a9e50e24dcca9e"}}))

	s.Equal([]string{"AA:01"}, addresses(reg.Snapshot()))
}

func (s *RegistryTestSuite) TestClear() {
	s.reg.Offer(device.Peripheral{Address: "AA:01", Name: "A"})
	s.reg.Clear()
	s.Empty(s.reg.Snapshot())

	_, ok := s.reg.Get("AA:01")
	s.False(ok)
}

func TestRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(RegistryTestSuite))
}

// GOAL: the registry never holds duplicate addresses, whatever the interleaving
//
// TEST SCENARIO: many goroutines offer overlapping addresses while readers
// snapshot concurrently → snapshot addresses stay unique and complete
func TestRegistry_ConcurrentOffersStayUnique(t *testing.T) {
	reg := New(Options{}, nil)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				reg.Offer(device.Peripheral{Address: fmt.Sprintf("AA:%02d", i%50), Name: fmt.Sprintf("dev-%d", w)})
				if i%20 == 0 {
					_ = reg.Snapshot()
				}
			}
		}(w)
	}
	wg.Wait()

	snap := reg.Snapshot()
	require.Len(t, snap, 50)
	seen := map[string]bool{}
	for _, p := range snap {
		assert.False(t, seen[p.Address], "address %s MUST appear once", p.Address)
		seen[p.Address] = true
	}
}
