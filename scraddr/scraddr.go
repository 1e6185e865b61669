// Package scraddr implements the scrAddr prefix-tagging scheme and the
// watched-address set used by the script-history scanner and ZC
// parser, grounded on the teacher's wsClientFilter (pubKeyHashes /
// scriptHashes keyed by ripemd160.Size arrays).
package scraddr

import (
	"golang.org/x/crypto/ripemd160"
)

// Type tags the kind of script a scrAddr represents, mirroring the
// original implementation's single-byte scrAddr prefix.
type Type byte

// Supported scrAddr types.
const (
	TypeP2PKH Type = 0x00
	TypeP2SH  Type = 0x05
	TypeMultisig Type = 0xfe
	TypeNonStandard Type = 0xff
)

// ScrAddr is a type-tagged, hash-keyed script address: a single byte
// discriminator followed by the ripemd160(sha256(script)) hash, the
// same framing spec.md §6 uses for SSH/Sub-SSH keys.
type ScrAddr [1 + ripemd160.Size]byte

// FromHash160 builds a ScrAddr from a script type and its 20-byte hash.
func FromHash160(t Type, hash160 [ripemd160.Size]byte) ScrAddr {
	var s ScrAddr
	s[0] = byte(t)
	copy(s[1:], hash160[:])
	return s
}

// Hash160 computes ripemd160 over sha256Digest. Given sha256(data), the
// result is ripemd160(sha256(data)), the standard Bitcoin "hash160" used
// to derive a P2PKH/P2SH scrAddr from a pubkey or script.
func Hash160(sha256Digest [32]byte) [ripemd160.Size]byte {
	h := ripemd160.New()
	h.Write(sha256Digest[:])
	sum := h.Sum(nil)
	var out [ripemd160.Size]byte
	copy(out[:], sum)
	return out
}

// Type returns the scrAddr's script-type discriminator byte.
func (s ScrAddr) Type() Type {
	return Type(s[0])
}

// Bytes returns the scrAddr's raw byte-exact form, as persisted in
// SSH/Sub-SSH keys.
func (s ScrAddr) Bytes() []byte {
	return s[:]
}

// Set is a set of watched scrAddrs (spec.md §4.4 step 3, §4.5 narrow
// mode); bdvsession keeps one Set per registered wallet.
type Set struct {
	addrs map[ScrAddr]struct{}
}

// NewSet creates an empty watched-address set.
func NewSet() *Set {
	return &Set{addrs: make(map[ScrAddr]struct{})}
}

// Add registers a scrAddr as watched.
func (s *Set) Add(addr ScrAddr) {
	s.addrs[addr] = struct{}{}
}

// Remove unregisters a scrAddr. Safe to call even if another session
// still watches the same address; callers are responsible for only
// calling Remove once no session references the address any more
// (spec.md §4.6 "addresses watched by another session are retained").
func (s *Set) Remove(addr ScrAddr) {
	delete(s.addrs, addr)
}

// Contains reports whether addr is currently watched.
func (s *Set) Contains(addr ScrAddr) bool {
	_, ok := s.addrs[addr]
	return ok
}

// Len returns the number of watched addresses.
func (s *Set) Len() int {
	return len(s.addrs)
}
