package e2e

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestViewports(t *testing.T) {
	require.Len(t, Viewports, 3)
	require.Equal(t, 1440, Viewports[ScreenDesktop].Width)
	require.Equal(t, 1024, Viewports[ScreenTablet].Width)
	require.Equal(t, 400, Viewports[ScreenMobile].Width)
	for size, vp := range Viewports {
		require.Equal(t, 1000, vp.Height, size)
	}
}

func TestBrowserManager_CloseIsSafe(t *testing.T) {
	var nilManager *BrowserManager
	require.NoError(t, nilManager.Close())

	m := &BrowserManager{cfg: DefaultConfig()}
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err := m.NewBrowserContext()
	require.Error(t, err)
}

func TestLaunch_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Browser = "netscape"
	m, err := Launch(cfg)
	require.Error(t, err)
	require.Nil(t, m)
}

func TestBrowserManager_Targets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Locale = "ja"
	cfg.ScreenSize = ScreenTablet
	m := &BrowserManager{cfg: cfg}
	require.Equal(t, "ja", m.TargetLocale())
	require.Equal(t, ScreenTablet, m.TargetScreenSize())
}

func TestScreenshotDir(t *testing.T) {
	_, err := ScreenshotDir(Config{})
	require.Error(t, err)

	dir := filepath.Join(t.TempDir(), "nested", "shots")
	got, err := ScreenshotDir(Config{ScreenshotDir: dir})
	require.NoError(t, err)
	require.Equal(t, dir, got)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestSuite_NewPageSkipsWithoutBrowser(t *testing.T) {
	s := NewSuite(DefaultConfig())
	require.NoError(t, s.LaunchErr())
	require.Equal(t, DefaultConfig().Timeout(), s.Timeout())

	var sub *testing.T
	t.Run("page", func(st *testing.T) {
		sub = st
		s.NewPage(st)
		st.Error("NewPage should have skipped")
	})
	require.True(t, sub.Skipped())
}

func TestSuite_WithArtifactStore(t *testing.T) {
	store := &recordingStore{}
	s := NewSuite(DefaultConfig(), WithArtifactStore(store))
	require.Same(t, store, s.store)
}

type recordingStore struct {
	keys []string
}

func (r *recordingStore) PutObject(_ context.Context, key string, _ []byte, _ string) error {
	r.keys = append(r.keys, key)
	return nil
}
