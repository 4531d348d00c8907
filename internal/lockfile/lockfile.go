// Package lockfile provides single-instance locking with request forwarding.
// One notiduck process owns the audio session at a time; later invocations
// append their resolved sound path to the lock file and exit, and the owner
// drains those requests while the streams are still ducked.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Info is the JSON payload stored in the lock file.
type Info struct {
	PID      int      `json:"pid"`
	OpID     string   `json:"op_id"`
	State    string   `json:"state"`
	Requests []string `json:"requests,omitempty"`
}

// File is a lock file on disk. All mutations are read-modify-write under an
// in-process mutex; cross-process races are tolerable because the only
// cross-process write is appending a request.
type File struct {
	mu   sync.Mutex
	path string
}

// New creates a handle for the lock file at path.
func New(path string) *File {
	return &File{path: path}
}

// DefaultPath returns the lock file location: the user's runtime directory
// if available, /tmp otherwise.
func DefaultPath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "notiduck.lock")
}

// Acquire attempts to take ownership of the lock. It returns true if this
// process now owns it. If another live process holds the lock, it returns
// false and the caller should Forward instead. Stale locks (dead PID or
// unreadable content) are replaced.
func (f *File) Acquire(opID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := f.read()
	if err == nil && info.PID != os.Getpid() && pidAlive(info.PID) {
		return false, nil
	}

	fresh := Info{
		PID:   os.Getpid(),
		OpID:  opID,
		State: "idle",
	}
	if err := f.write(fresh); err != nil {
		return false, fmt.Errorf("writing lock file: %w", err)
	}
	return true, nil
}

// Forward appends a resolved sound path to the owning process's request
// queue. Fails if no live owner holds the lock.
func (f *File) Forward(soundPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := f.read()
	if err != nil {
		return fmt.Errorf("reading lock file: %w", err)
	}
	if !pidAlive(info.PID) {
		return errors.New("lock holder is no longer running")
	}

	info.Requests = append(info.Requests, soundPath)
	return f.write(info)
}

// SetState updates the owner's state field, preserving pending requests.
func (f *File) SetState(state string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := f.read()
	if err != nil {
		return err
	}
	info.State = state
	return f.write(info)
}

// TakeRequests removes and returns all pending forwarded requests.
func (f *File) TakeRequests() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := f.read()
	if err != nil {
		return nil, err
	}
	if len(info.Requests) == 0 {
		return nil, nil
	}

	requests := info.Requests
	info.Requests = nil
	if err := f.write(info); err != nil {
		return nil, err
	}
	return requests, nil
}

// Release removes the lock file. Requests forwarded after the owner's last
// TakeRequests poll are drained and returned so the caller can report them
// as dropped; the forwarding invocation already exited believing they would
// play. Safe to call when the file is already gone.
func (f *File) Release() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var dropped []string
	if info, err := f.read(); err == nil {
		dropped = info.Requests
	}

	err := os.Remove(f.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return dropped, err
	}
	return dropped, nil
}

func (f *File) read() (Info, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return Info{}, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, fmt.Errorf("corrupt lock file: %w", err)
	}
	return info, nil
}

// write replaces the file atomically so concurrent readers never observe a
// partial payload.
func (f *File) write(info Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// pidAlive reports whether a process with the given pid exists, checked via
// procfs since this tool only runs on Linux.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.Stat(fmt.Sprintf("/proc/%d", pid))
	return err == nil
}
