package config

// BookingConfig holds engine policy that is not stored per studio.
type BookingConfig struct {
	// MaxAttempts bounds the retries of a reservation that lost a race.
	MaxAttempts int
}

// LoadBookingConfig reads BOOKING_* variables.
func LoadBookingConfig() BookingConfig {
	c := BookingConfig{MaxAttempts: envInt("BOOKING_MAX_ATTEMPTS", 3)}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	return c
}
