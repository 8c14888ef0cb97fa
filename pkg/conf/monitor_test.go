package conf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

const testConfigTemplate = `
capture:
  interface: eth0
sink:
  email: probe@example.com
  token: secret
device:
  name: %s
`

func writeTestConfig(t *testing.T, path, deviceName string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(testConfigTemplate, deviceName)), 0o600))
}

func TestMonitorReloadsOnConfigFileWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowtap.yaml")
	writeTestConfig(t, path, "initial")

	viper.Reset()
	viper.SetConfigFile(path)
	initial, err := Load()
	require.NoError(t, err)
	require.Equal(t, "initial", initial.Device.Name)

	mon, err := NewMonitor(path, initial, nil)
	require.NoError(t, err)

	reloaded := make(chan *Config, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, mon.Start(ctx, func(cfg *Config) { reloaded <- cfg }))

	writeTestConfig(t, path, "updated")

	select {
	case cfg := <-reloaded:
		require.Equal(t, "updated", cfg.Device.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}

	require.Equal(t, "updated", mon.GetConfig().Device.Name)
}

func TestMonitorStartIsNoopWithoutAPath(t *testing.T) {
	mon, err := NewMonitor("", New(), nil)
	require.NoError(t, err)
	require.NoError(t, mon.Start(context.Background(), nil))
}
