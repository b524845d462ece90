package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRequest_Validate(t *testing.T) {
	t.Run("fills empty tags", func(t *testing.T) {
		req := LocalRequest{DeviceID: " d1 "}
		require.NoError(t, req.Validate())
		assert.Equal(t, "d1", req.DeviceID)
		assert.NotNil(t, req.Tags)
		assert.Empty(t, req.Tags)
	})

	t.Run("requires device", func(t *testing.T) {
		req := LocalRequest{}
		assert.ErrorIs(t, req.Validate(), ErrInvalidRequest)
	})
}

func TestRemoteRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     RemoteRequest
		wantErr bool
	}{
		{"password auth", RemoteRequest{Host: "tv", Username: "root", Password: "pw"}, false},
		{"key auth", RemoteRequest{Host: "tv", Username: "root", PrivateKey: "KEY"}, false},
		{"missing host", RemoteRequest{Username: "root", Password: "pw"}, true},
		{"missing user", RemoteRequest{Host: "tv", Password: "pw"}, true},
		{"missing credentials", RemoteRequest{Host: "tv", Username: "root"}, true},
		{"bad port", RemoteRequest{Host: "tv", Username: "root", Password: "pw", Port: 70000}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate(22)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRequest)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	t.Run("default port", func(t *testing.T) {
		req := RemoteRequest{Host: "tv", Username: "root", Password: "pw"}
		require.NoError(t, req.Validate(22))
		assert.Equal(t, 22, req.Port)
		assert.Equal(t, "tv:22", req.Address())
		assert.Equal(t, "root@tv:22", req.Target())
	})
}

func TestTransportErrorEvent(t *testing.T) {
	assert.Equal(t, EventLocalTransportError, TransportErrorEvent(TransportLocal))
	assert.Equal(t, EventRemoteTransportError, TransportErrorEvent(TransportRemote))
	assert.True(t, TransportLocal.Valid())
	assert.False(t, TransportKind("usb").Valid())
}
