// Package web holds the dashboard page of the VM monitor.
package web

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
)

// IndexPage is the page the dashboard starts from.
const IndexPage = "index.html"

//go:embed dist/*
var dist embed.FS

// CheckDir tells whether dir can replace the built-in dashboard. An empty dir
// selects the built-in one and is always fine.
func CheckDir(dir string) error {
	if dir == "" {
		return nil
	}

	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("dashboard directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("dashboard path %s is not a directory", dir)
	}

	if _, err := os.Stat(filepath.Join(dir, IndexPage)); err != nil {
		return fmt.Errorf("dashboard directory %s has no %s: %w",
			dir, IndexPage, err)
	}

	return nil
}

// Assets returns the dashboard files. With dir set, the files are read from
// that directory on every request, so the page can be edited while a run is
// being watched. Otherwise the copy built into the binary is served.
func Assets(dir string) (http.FileSystem, error) {
	if dir != "" {
		if err := CheckDir(dir); err != nil {
			return nil, err
		}

		return http.Dir(dir), nil
	}

	sub, err := fs.Sub(dist, "dist")
	if err != nil {
		return nil, err
	}

	return http.FS(sub), nil
}

// Handler serves the dashboard. The page polls the API, so responses are
// never cached by the browser.
func Handler(assets http.FileSystem) http.Handler {
	files := http.FileServer(assets)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		files.ServeHTTP(w, r)
	})
}
