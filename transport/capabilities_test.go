package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilitiesFits(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
		size int
		want bool
	}{
		{"unlimited", Capabilities{}, 10 << 20, true},
		{"below limit", AWSCapabilities, 1024, true},
		{"at limit", Capabilities{MaxMessageSize: 100}, 100, true},
		{"above limit", AWSCapabilities, 262145, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.caps.Fits(tt.size))
		})
	}
}

func TestOnlyChannelIsInProcess(t *testing.T) {
	assert.False(t, ChannelCapabilities.SupportsRoleSplit())
	for _, caps := range []Capabilities{KafkaCapabilities, RabbitMQCapabilities, NATSCapabilities, AWSCapabilities, HTTPCapabilities} {
		assert.True(t, caps.SupportsRoleSplit(), caps.Name)
	}
}

func TestOrderedBackends(t *testing.T) {
	assert.True(t, ChannelCapabilities.Ordered)
	assert.True(t, KafkaCapabilities.Ordered)
	assert.False(t, NATSCapabilities.Ordered)
	assert.False(t, AWSCapabilities.Ordered)
}
