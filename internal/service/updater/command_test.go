package updater

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/device-updater/internal/config"
	"github.com/oshokin/device-updater/internal/domain/update"
)

type stubService struct {
	calls []string
}

func (s *stubService) CheckInitramfsUpdate(context.Context) (update.InitramfsCheck, error) {
	s.calls = append(s.calls, "check initramfs")

	return update.InitramfsCheck{Available: true}, nil
}

func (s *stubService) UpdateInitramfs(context.Context) (update.InitramfsUpdate, error) {
	s.calls = append(s.calls, "update initramfs")

	return update.InitramfsUpdate{}, nil
}

func (s *stubService) CheckSquashfsUpdate(context.Context) (update.SquashfsCheck, error) {
	s.calls = append(s.calls, "check squashfs")

	return update.SquashfsCheck{Error: "network error"}, nil
}

func (s *stubService) UpdateSquashfs(context.Context) (update.SquashfsUpdate, error) {
	s.calls = append(s.calls, "update squashfs")

	return update.SquashfsUpdate{NewVersion: update.Ptr("2023-08-04_16_30")}, nil
}

func TestDispatch(t *testing.T) {
	t.Parallel()

	service := &stubService{}
	ctx := context.Background()

	result, err := dispatch(ctx, service, ActionCheck, ComponentInitramfs)
	require.NoError(t, err)
	require.Equal(t, update.InitramfsCheck{Available: true}, result)

	_, err = dispatch(ctx, service, ActionUpdate, ComponentSquashfs)
	require.NoError(t, err)

	_, err = dispatch(ctx, service, ActionCheck, "kernel")
	require.ErrorIs(t, err, errUnknownComponent)

	_, err = dispatch(ctx, service, "rollback", ComponentSquashfs)
	require.ErrorIs(t, err, errUnknownAction)

	require.Equal(t, []string{"check initramfs", "update squashfs"}, service.calls)
}

func TestPrintResult(t *testing.T) {
	t.Parallel()

	var output bytes.Buffer

	require.NoError(t, printResult(&output, update.InitramfsUpdate{}))
	require.JSONEq(t, `{"updated": null}`, output.String())

	output.Reset()

	require.NoError(t, printResult(&output, update.SquashfsUpdate{NewVersion: update.Ptr("24.02.28b1")}))
	require.JSONEq(t, `{"new_version": "24.02.28b1"}`, output.String())
}

func TestRun_CheckSquashfs(t *testing.T) {
	server := newUpdateServer(t)
	cfg := testConfig(t, server)
	cfg.Retries = 0
	writeBuildInfo(t, cfg, update.Component{Name: "debian-neon-image-rpi4", Time: "2023-08-04_10_30"})

	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)

	configPath := filepath.Join(t.TempDir(), "device-updater.yaml")
	require.NoError(t, os.WriteFile(configPath, data, config.DefaultFilePermissions))

	var output bytes.Buffer

	err = Run(context.Background(), &Options{
		ConfigPath: configPath,
		LogLevel:   "error",
		Action:     ActionCheck,
		Component:  ComponentSquashfs,
		Output:     &output,
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"available": true}`, output.String())
}

func TestRun_RejectsUnknownComponent(t *testing.T) {
	server := newUpdateServer(t)
	cfg := testConfig(t, server)

	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)

	configPath := filepath.Join(t.TempDir(), "device-updater.yaml")
	require.NoError(t, os.WriteFile(configPath, data, config.DefaultFilePermissions))

	err = Run(context.Background(), &Options{
		ConfigPath: configPath,
		LogLevel:   "error",
		Action:     ActionCheck,
		Component:  "kernel",
		Output:     &bytes.Buffer{},
	})
	require.ErrorIs(t, err, errUnknownComponent)
}
