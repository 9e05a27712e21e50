package orchestrator

import (
    "os"
    "path/filepath"
    "strings"
    "time"
)

// CleanupTemps removes temp downloads left behind by the page counter that
// are older than maxAge, and returns how many it removed.
func CleanupTemps(maxAge time.Duration) int {
    return cleanupDir(os.TempDir(), maxAge, time.Now())
}

func cleanupDir(dir string, maxAge time.Duration, now time.Time) int {
    entries, err := os.ReadDir(dir)
    if err != nil { return 0 }
    removed := 0
    for _, e := range entries {
        if e.IsDir() { continue }
        name := e.Name()
        if !strings.HasPrefix(name, httpTempPrefix) && !strings.HasPrefix(name, s3TempPrefix) { continue }
        info, err := e.Info()
        if err != nil { continue }
        if now.Sub(info.ModTime()) >= maxAge {
            if os.Remove(filepath.Join(dir, name)) == nil { removed++ }
        }
    }
    return removed
}
