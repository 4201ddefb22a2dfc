package config

import "sync"

// Holder shares one Config between the daemon's components and writes every change back to path.
type Holder struct {
	path string

	mu  sync.Mutex
	cfg Config
}

func NewHolder(path string, cfg Config) *Holder {
	cfg.Normalize()
	return &Holder{path: path, cfg: cfg}
}

func (h *Holder) Get() Config {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cfg
}

// Update applies fn to a copy, validates it and saves it. The held value only changes when all of
// that succeeds. An empty path keeps changes in memory.
func (h *Holder) Update(fn func(*Config)) (Config, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	next := h.cfg
	fn(&next)
	next.Normalize()
	if err := next.Validate(); err != nil {
		return h.cfg, err
	}
	if h.path != "" {
		if err := next.Save(h.path); err != nil {
			return h.cfg, err
		}
	}
	h.cfg = next
	return next, nil
}
