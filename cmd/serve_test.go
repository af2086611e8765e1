package cmd

import (
	"os"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rcp-ptz/internal/config"
)

func TestBuildGateway(t *testing.T) {
	cfg := &config.Config{
		AutoReleaseDelay: time.Second,
		RequestTimeout:   time.Second,
		Cameras: []config.CameraConfig{
			{ID: "Cam2", URL: "http://10.0.0.2"},
			{ID: "Cam1", URL: "http://10.0.0.1", Username: "service", Password: "secret", Auth: "digest", RTSP: "rtsp://10.0.0.1/stream"},
		},
	}

	svc, previews, err := buildGateway(cfg)
	require.NoError(t, err)
	defer svc.Close()

	assert.Equal(t, []string{"Cam1", "Cam2"}, svc.Cameras())
	require.Len(t, previews, 1)
	assert.NotNil(t, previews["Cam1"])
	for _, src := range previews {
		require.NoError(t, src.Close())
	}
}

func TestBuildGatewayRejectsBadCamera(t *testing.T) {
	cfg := &config.Config{
		AutoReleaseDelay: time.Second,
		RequestTimeout:   time.Second,
		Cameras: []config.CameraConfig{
			{ID: "Cam1", URL: "http://10.0.0.1"},
			{ID: "Cam2", URL: "http://10.0.0.2", Auth: "ntlm"},
		},
	}

	_, _, err := buildGateway(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "camera Cam2")
}

func TestConfigureLogger(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)

	t.Setenv("LOG_LEVEL", "warn")
	configureLogger(false)
	assert.Equal(t, log.WarnLevel, log.GetLevel())

	configureLogger(true)
	assert.Equal(t, log.DebugLevel, log.GetLevel())

	require.NoError(t, os.Unsetenv("LOG_LEVEL"))
	configureLogger(false)
	assert.Equal(t, log.InfoLevel, log.GetLevel())
}
