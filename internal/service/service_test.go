package service

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/catalystneuro/schneider-lab-to-nwb/internal/config"
	"github.com/catalystneuro/schneider-lab-to-nwb/internal/dataset"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestService(t *testing.T, cfg *config.Config, fsys afero.Fs) *ConversionService {
	t.Helper()
	return New(cfg, fsys, quietLogger()).(*ConversionService)
}

func TestSessions_Discover(t *testing.T) {
	fsys := afero.NewMemMapFs()
	if err := fsys.MkdirAll("/raw/A1_EphysFiles/m53/Day1_A1", 0755); err != nil {
		t.Fatal(err)
	}
	for _, f := range []string{
		"/raw/A1_EphysBehavioralFiles/raw_m53_231029_001.mat",
		"/raw/M2_OptoBehavioralFiles/raw_m70_231101_001.mat",
	} {
		if err := afero.WriteFile(fsys, f, nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.Default("zempolich_2024")
	cfg.DataDirectory = "/raw"
	sessions, err := newTestService(t, cfg, fsys).Sessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	if sessions[1].BrainRegion != "M2" || !sessions[1].HasOpto {
		t.Errorf("Expected an M2 opto session, got %+v", sessions[1])
	}
}

func TestSessions_SessionsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.yaml")
	content := `
- behavior_file: /raw/raw_m1_231001_001.mat
  has_opto: true
- behavior_file: /raw/raw_m2_231002_001.mat
  ephys_folder: /raw/m2/Day1
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default("schneider_2024")
	cfg.SessionsFile = path

	sessions, err := newTestService(t, cfg, afero.NewMemMapFs()).Sessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].Dataset != "schneider_2024" || !sessions[0].HasOpto {
		t.Errorf("Expected the configured dataset on an opto session, got %+v", sessions[0])
	}
	if sessions[1].EphysFolder != "/raw/m2/Day1" {
		t.Errorf("Expected the ephys folder, got %s", sessions[1].EphysFolder)
	}
}

func TestSessions_NothingConfigured(t *testing.T) {
	svc := newTestService(t, config.Default("schneider_2024"), afero.NewMemMapFs())
	if _, err := svc.Sessions(); err == nil {
		t.Error("Expected error without data directory or sessions file")
	}
	if _, err := svc.ConvertDataset(context.Background()); err == nil {
		t.Error("Expected dataset conversion to fail")
	}
	if !strings.Contains(svc.GetLastError(), "no data_directory or sessions_file") {
		t.Errorf("Expected the failure as last error, got %q", svc.GetLastError())
	}
}

func TestConvertSession_FailureSetsLastError(t *testing.T) {
	cfg := config.Default("la_chioma_2024")
	cfg.OutputDirectory = t.TempDir()
	svc := newTestService(t, cfg, nil)

	_, err := svc.ConvertSession(context.Background(), dataset.Session{})
	if err == nil {
		t.Fatal("Expected error for a session without ephys folder")
	}
	if svc.GetLastError() == "" {
		t.Error("Expected the last error to be recorded")
	}
}

func TestListOutputs(t *testing.T) {
	out := t.TempDir()
	store := filepath.Join(out, "sub-m1_ses-231001.nwb")
	if err := os.MkdirAll(filepath.Join(store, "acquisition"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(store, "acquisition", "0.0"), make([]byte, 2048), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(out, "ERROR_sub-m2_ses-231002.nwb.txt"), []byte("boom"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(out, "notes.txt"), []byte("skip"), 0644); err != nil {
		t.Fatal(err)
	}
	stub := filepath.Join(out, dataset.StubDir)
	if err := os.MkdirAll(stub, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(stub, "sub-m1_ses-231001.nwb"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default("schneider_2024")
	cfg.OutputDirectory = out
	outputs, err := newTestService(t, cfg, nil).ListOutputs()
	if err != nil {
		t.Fatal(err)
	}
	if len(outputs) != 3 {
		t.Fatalf("Expected 3 outputs, got %d: %+v", len(outputs), outputs)
	}

	byKey := map[string]OutputInfo{}
	for _, o := range outputs {
		byKey[o.Path] = o
	}
	if o := byKey[store]; o.Size != 2048 || o.SizeHuman != "2.0 kB" || o.Stub || o.Failed {
		t.Errorf("Expected the zarr store sized 2048 bytes, got %+v", o)
	}
	if o := byKey[filepath.Join(out, "ERROR_sub-m2_ses-231002.nwb.txt")]; !o.Failed {
		t.Errorf("Expected the error report marked failed, got %+v", o)
	}
	if o := byKey[filepath.Join(stub, "sub-m1_ses-231001.nwb")]; !o.Stub {
		t.Errorf("Expected the stub output marked stub, got %+v", o)
	}
}

func TestListOutputs_MissingDirectory(t *testing.T) {
	cfg := config.Default("schneider_2024")
	cfg.OutputDirectory = filepath.Join(t.TempDir(), "missing")
	outputs, err := newTestService(t, cfg, nil).ListOutputs()
	if err != nil {
		t.Fatal(err)
	}
	if len(outputs) != 0 {
		t.Errorf("Expected no outputs, got %d", len(outputs))
	}
}
