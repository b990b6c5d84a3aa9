package extract

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/GoCodeAlone/forgedocs/record"
)

// Workspace is the scratch directory layout the download tool needs. It is
// owned by a single extraction and removed by Close.
type Workspace struct {
	Root       string
	ModulePath string
	ConfDir    string
	ConfigFile string
	VarDir     string
	CacheDir   string
	LogDir     string
}

// NewWorkspace creates a fresh workspace under baseDir (os.TempDir when
// empty). On failure nothing is left behind.
func NewWorkspace(baseDir string) (*Workspace, error) {
	root, err := os.MkdirTemp(baseDir, "forgedocs-*")
	if err != nil {
		return nil, fmt.Errorf("workspace: create root: %w", err)
	}

	ws := &Workspace{
		Root:       root,
		ModulePath: filepath.Join(root, "modules"),
		ConfDir:    filepath.Join(root, "config"),
		VarDir:     filepath.Join(root, "var"),
		CacheDir:   filepath.Join(root, "var", "cache"),
		LogDir:     filepath.Join(root, "log"),
	}
	ws.ConfigFile = filepath.Join(ws.ConfDir, "puppet.conf")

	if err := ws.scaffold(); err != nil {
		_ = os.RemoveAll(root)
		return nil, err
	}
	return ws, nil
}

func (w *Workspace) scaffold() error {
	for _, dir := range []string{w.ModulePath, w.ConfDir, w.CacheDir, w.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("workspace: create %s: %w", dir, err)
		}
	}

	conf := fmt.Sprintf("[main]\nvardir = %s\nlogdir = %s\nmodulepath = %s\n", w.VarDir, w.LogDir, w.ModulePath)
	if err := os.WriteFile(w.ConfigFile, []byte(conf), 0o644); err != nil {
		return fmt.Errorf("workspace: write %s: %w", w.ConfigFile, err)
	}
	return nil
}

// ModuleDir is where the download tool installs id.
func (w *Workspace) ModuleDir(id record.Identity) string {
	return filepath.Join(w.ModulePath, id.Name)
}

// Close removes the workspace and everything in it.
func (w *Workspace) Close() error {
	if err := os.RemoveAll(w.Root); err != nil {
		return fmt.Errorf("workspace: remove %s: %w", w.Root, err)
	}
	return nil
}
