package sqlite

import "time"

// SetNow overrides the store clock. Tests use it to simulate TTL expiry
// without sleeping.
func (s *Store) SetNow(now func() time.Time) {
	s.now = now
}
