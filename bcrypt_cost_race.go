//go:build race

package auth

import "golang.org/x/crypto/bcrypt"

// DefaultPasswordCost is the bcrypt work factor used when none is configured
const DefaultPasswordCost = bcrypt.DefaultCost

func passwordHashCost() int {
	// Reduce cost for race-enabled builds so test suites can run with strict timeouts.
	return DefaultPasswordCost
}
