package service

// SetKeyGenerator replaces the idempotency key source of s.
func SetKeyGenerator(s *TopUpService, newKey func() string) {
	s.newKey = newKey
}
