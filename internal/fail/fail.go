// Package fail provides named failure injection points for tests. A point is
// inert unless a test enables it, in which case it returns the registered
// error. Production code paths call Point and pay a single map lookup.
package fail

import "sync"

var (
	mu     sync.Mutex
	points map[string]error
)

// Enable arms the named point with the error it should return.
func Enable(name string, err error) {
	mu.Lock()
	defer mu.Unlock()

	if points == nil {
		points = make(map[string]error)
	}

	points[name] = err
}

// Disable disarms the named point.
func Disable(name string) {
	mu.Lock()
	defer mu.Unlock()

	delete(points, name)
}

// Point returns the error registered for the name, or nil when the point is
// not armed.
func Point(name string) error {
	mu.Lock()
	defer mu.Unlock()

	return points[name]
}
