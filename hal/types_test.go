package hal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"typical", Config{Baudrate: 1000000, Mode: Mode0, BitOrder: MSBFirst, DataBits: 8}, true},
		{"mode 3 lsb", Config{Baudrate: 500000, Mode: Mode3, BitOrder: LSBFirst, DataBits: 16}, true},
		{"zero baudrate", Config{Mode: Mode0, BitOrder: MSBFirst, DataBits: 8}, false},
		{"mode out of range", Config{Baudrate: 1000, Mode: 4, BitOrder: MSBFirst, DataBits: 8}, false},
		{"bad bit order", Config{Baudrate: 1000, Mode: Mode0, BitOrder: 2, DataBits: 8}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidParam)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "reset", StateReset.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "busy", StateBusy.String())
	assert.Equal(t, "error", StateError.String())
	assert.Equal(t, "unknown", State(9).String())
}
