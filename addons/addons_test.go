package addons_test

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/upgradekit/odooup/addons"
	"github.com/upgradekit/odooup/fetch"
	"github.com/upgradekit/odooup/genericclioptions"

	"github.com/google/go-cmp/cmp"
)

func newIntegrator() *addons.Integrator {
	iostreams := genericclioptions.NewTestIOStreamsDiscard()
	return addons.NewIntegrator(iostreams, fetch.NewAcquirer(iostreams))
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}

		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}

		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
}

func TestNormalize_FlattensWrapperDirectory(t *testing.T) {
	src := t.TempDir()
	writeFiles(t, src, map[string]string{
		"bundle-main/mod_a/__manifest__.py": "{}",
		"bundle-main/mod_b/__openerp__.py":  "{}",
		"bundle-main/requirements.txt":      "requests\n",
	})

	bundleDir := filepath.Join(t.TempDir(), "custom_addons")

	if err := newIntegrator().Normalize(context.Background(), src, bundleDir, t.TempDir()); err != nil {
		t.Fatalf("Normalize() failed: %v", err)
	}

	modules, err := addons.ListModules(bundleDir)
	if err != nil {
		t.Fatalf("ListModules() failed: %v", err)
	}

	if diff := cmp.Diff([]string{"mod_a", "mod_b"}, modules); diff != "" {
		t.Errorf("modules mismatch (-want +got):\n%s", diff)
	}

	if _, err := os.Stat(filepath.Join(bundleDir, "bundle-main")); !os.IsNotExist(err) {
		t.Errorf("wrapper directory still present")
	}

	data, err := os.ReadFile(filepath.Join(bundleDir, addons.RequirementsFile))
	if err != nil {
		t.Fatalf("read requirements: %v", err)
	}

	if string(data) != "requests\n" {
		t.Errorf("requirements overwritten: %q", data)
	}
}

func TestNormalize_NestsFlatModule(t *testing.T) {
	src := t.TempDir()
	writeFiles(t, src, map[string]string{
		"__manifest__.py":  "{}",
		"models/sale.py":   "",
		"views/sale.xml":   "",
		"requirements.txt": "",
	})

	bundleDir := filepath.Join(t.TempDir(), "custom_addons")

	if err := newIntegrator().Normalize(context.Background(), src, bundleDir, t.TempDir()); err != nil {
		t.Fatalf("Normalize() failed: %v", err)
	}

	modules, err := addons.ListModules(bundleDir)
	if err != nil {
		t.Fatalf("ListModules() failed: %v", err)
	}

	if diff := cmp.Diff([]string{addons.SyntheticModuleDir}, modules); diff != "" {
		t.Errorf("modules mismatch (-want +got):\n%s", diff)
	}

	if _, err := os.Stat(filepath.Join(bundleDir, addons.SyntheticModuleDir, "models", "sale.py")); err != nil {
		t.Errorf("module content not relocated: %v", err)
	}
}

func TestNormalize_LocalArchive(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "addons.zip")
	writeZip(t, archive, map[string]string{
		"mod_a/__manifest__.py": "{}",
		"mod_a/models/a.py":     "",
	})

	bundleDir := filepath.Join(t.TempDir(), "custom_addons")

	if err := newIntegrator().Normalize(context.Background(), archive, bundleDir, t.TempDir()); err != nil {
		t.Fatalf("Normalize() failed: %v", err)
	}

	modules, err := addons.ListModules(bundleDir)
	if err != nil {
		t.Fatalf("ListModules() failed: %v", err)
	}

	if diff := cmp.Diff([]string{"mod_a"}, modules); diff != "" {
		t.Errorf("modules mismatch (-want +got):\n%s", diff)
	}

	// a missing dependency manifest is synthesized empty
	fi, err := os.Stat(filepath.Join(bundleDir, addons.RequirementsFile))
	if err != nil {
		t.Fatalf("requirements not created: %v", err)
	}

	if fi.Size() != 0 {
		t.Errorf("synthesized requirements not empty: %d bytes", fi.Size())
	}
}

func TestNormalize_EmptyRefIsNoop(t *testing.T) {
	bundleDir := filepath.Join(t.TempDir(), "custom_addons")

	if err := newIntegrator().Normalize(context.Background(), "", bundleDir, t.TempDir()); err != nil {
		t.Fatalf("Normalize() failed: %v", err)
	}

	if _, err := os.Stat(bundleDir); !os.IsNotExist(err) {
		t.Errorf("bundle dir created for empty reference")
	}
}

func TestListModules_MissingDir(t *testing.T) {
	modules, err := addons.ListModules(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("ListModules() failed: %v", err)
	}

	if modules != nil {
		t.Errorf("modules = %v, want nil", modules)
	}
}
