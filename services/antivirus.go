package services

import (
	"context"
	"sync"
)

var (
	antivirus_mu sync.Mutex
	g_antivirus  AntivirusScanner
)

// Returns nil when no antivirus backend is configured.
func GetAntivirusScanner() AntivirusScanner {
	antivirus_mu.Lock()
	defer antivirus_mu.Unlock()

	return g_antivirus
}

func RegisterAntivirusScanner(s AntivirusScanner) {
	antivirus_mu.Lock()
	defer antivirus_mu.Unlock()

	g_antivirus = s
}

type AntivirusScanner interface {
	// Scan every file under path. Returns the signature name for
	// each infected file keyed by its full path. Clean files are
	// not present in the map.
	ScanDirectory(ctx context.Context, path string) (map[string]string, error)
}
