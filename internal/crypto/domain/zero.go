package domain

import "github.com/awnumar/memguard"

// Zero overwrites a byte slice with zeros. Used on every transient copy of key material.
func Zero(b []byte) {
	if len(b) == 0 {
		return
	}
	memguard.WipeBytes(b)
}
