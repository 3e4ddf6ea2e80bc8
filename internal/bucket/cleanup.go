package bucket

import (
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
)

// liveSegments tracks every segment file not yet deleted so that they can be
// removed when the process is interrupted.
var liveSegments = struct {
	sync.Mutex
	paths map[string]struct{}
}{paths: make(map[string]struct{})}

func register(path string) {
	liveSegments.Lock()
	liveSegments.paths[path] = struct{}{}
	liveSegments.Unlock()
}

func unregister(path string) {
	liveSegments.Lock()
	delete(liveSegments.paths, path)
	liveSegments.Unlock()
}

func removeSegment(path string) error {
	unregister(path)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// LiveSegments returns the number of segment files currently on disk.
func LiveSegments() int {
	liveSegments.Lock()
	defer liveSegments.Unlock()
	return len(liveSegments.paths)
}

// CleanupAll deletes every live segment file and returns how many were
// removed. Lists that owned them must not be used afterwards.
func CleanupAll() (int, error) {
	liveSegments.Lock()
	paths := make([]string, 0, len(liveSegments.paths))
	for p := range liveSegments.paths {
		paths = append(paths, p)
	}
	clear(liveSegments.paths)
	liveSegments.Unlock()

	var errList []error
	removed := 0
	for _, p := range paths {
		if err := os.Remove(p); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				errList = append(errList, err)
			}
			continue
		}
		removed++
	}
	return removed, errors.Join(errList...)
}

// InstallExitHandler removes live segments when the process receives SIGINT
// or SIGTERM, then re-raises the signal with the default disposition. The
// returned function uninstalls the handler.
func InstallExitHandler(logger logrus.FieldLogger) (stop func()) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-ch:
			n, err := CleanupAll()
			entry := logger.WithFields(logrus.Fields{"signal": sig.String(), "segments": n})
			if err != nil {
				entry.WithError(err).Warn("spill cleanup incomplete")
			} else {
				entry.Info("removed spill segments")
			}
			signal.Stop(ch)
			if p, err := os.FindProcess(os.Getpid()); err == nil {
				_ = p.Signal(sig)
			}
		case <-done:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
		})
	}
}
