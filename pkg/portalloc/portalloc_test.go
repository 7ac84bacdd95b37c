package portalloc

import (
	"testing"

	"github.com/cuemby/clusterctl/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	reserved map[uint16]struct{}
}

func (f *fakeStore) ReservedPorts() (map[uint16]struct{}, error) {
	return f.reserved, nil
}

func TestPassiveFTPWindowStart(t *testing.T) {
	assert.Equal(t, uint16(21100), PassiveFTPWindowStart(21000))
	assert.Equal(t, uint16(21110), PassiveFTPWindowStart(21001))
	assert.Equal(t, uint16(21990), PassiveFTPWindowStart(21089))
	// wraps below 22000
	assert.Equal(t, uint16(21100), PassiveFTPWindowStart(21090))
}

func TestNextApplicationPortSkipsReserved(t *testing.T) {
	store := &fakeStore{reserved: map[uint16]struct{}{9000: {}, 9001: {}}}
	a := New(config.PortRange{Min: 9000, Max: 9010}, config.PortRange{Min: 21000, Max: 21099}, store)

	port, err := a.NextApplicationPort()
	require.NoError(t, err)
	assert.Equal(t, uint16(9002), port)
}

func TestIsFreeReportsReservedAsTaken(t *testing.T) {
	store := &fakeStore{reserved: map[uint16]struct{}{9000: {}}}
	a := New(config.PortRange{Min: 9000, Max: 9010}, config.PortRange{Min: 21000, Max: 21099}, store)

	free, err := a.IsFree(9000)
	require.NoError(t, err)
	assert.False(t, free)
}

func TestIsFreeReportsOpenPortAsFree(t *testing.T) {
	store := &fakeStore{reserved: map[uint16]struct{}{}}
	a := New(config.PortRange{Min: 19500, Max: 19600}, config.PortRange{Min: 21000, Max: 21099}, store)

	free, err := a.IsFree(19555)
	require.NoError(t, err)
	assert.True(t, free)
}

func TestNextApplicationPortExhausted(t *testing.T) {
	store := &fakeStore{reserved: map[uint16]struct{}{9000: {}}}
	a := New(config.PortRange{Min: 9000, Max: 9000}, config.PortRange{Min: 21000, Max: 21099}, store)

	_, err := a.NextApplicationPort()
	assert.Error(t, err)
}
