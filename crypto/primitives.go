// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// Package crypto implements the key agreement, derivation and MAC
// primitives a SAS verification session is built on: X25519 ephemeral
// keys, HKDF-SHA-256 derivation of the short authentication string and
// MAC key, HMAC-SHA-256 MACs, and the SHA-256 commitment that binds a
// responder's key to the initiator's start payload.
package crypto

import (
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrLowOrderKey is returned when a peer's public key ECDHs to the
// all-zero point, which X25519 produces for a handful of small-order
// inputs. Accepting it would hand an attacker a known shared secret.
var ErrLowOrderKey = errors.New("crypto: peer key agrees to a low-order point")

// ErrReflectedKey is returned when a peer's claimed public key is
// identical to our own ephemeral public key — either a reflection of
// our own "key" message back at us or two sides colliding on the same
// point, neither of which spec.md §4.1 permits `agree` to proceed past.
var ErrReflectedKey = errors.New("crypto: peer key equals our own public key")

// KeyPair is an ephemeral X25519 key pair used for one verification session.
type KeyPair struct {
	private *ecdh.PrivateKey
}

// GenerateEphemeral creates a new ephemeral X25519 key pair.
func GenerateEphemeral() (*KeyPair, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate ephemeral key: %w", err)
	}
	return &KeyPair{private: priv}, nil
}

// PublicBase64 returns the unpadded base64 encoding of the public key,
// the wire format spec.md §4.1 requires for the "key" field of start/accept/key events.
func (kp *KeyPair) PublicBase64() string {
	return base64.RawStdEncoding.EncodeToString(kp.private.PublicKey().Bytes())
}

// Agree performs the X25519 Diffie-Hellman agreement against a peer's
// public key, given as the unpadded base64 string received on the wire.
// It rejects a key that decodes to the all-zero (low-order) point, and
// a key that is byte-identical to our own public key (spec.md §4.1's
// "fails if peer point is all-zero or equals own public").
func (kp *KeyPair) Agree(peerPublicBase64 string) ([]byte, error) {
	peerBytes, err := base64.RawStdEncoding.DecodeString(peerPublicBase64)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode peer key: %w", err)
	}
	peer, err := ecdh.X25519().NewPublicKey(peerBytes)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse peer key: %w", err)
	}
	ownBytes := kp.private.PublicKey().Bytes()
	if subtle.ConstantTimeCompare(peerBytes, ownBytes) == 1 {
		return nil, ErrReflectedKey
	}
	shared, err := kp.private.ECDH(peer)
	if err != nil {
		// The stdlib X25519 ECDH fails only when the result is the
		// all-zero (low-order) point.
		return nil, fmt.Errorf("%w: %v", ErrLowOrderKey, err)
	}
	var zero [32]byte
	if subtle.ConstantTimeCompare(shared, zero[:]) == 1 {
		return nil, ErrLowOrderKey
	}
	return shared, nil
}

// sasInfo builds the HKDF info string of spec.md §4.1: the literal
// "MATRIX_KEY_VERIFICATION_SAS" label followed by the initiator's
// user/device id and ephemeral key, the responder's user/device id and
// ephemeral key, and the transaction id, all pipe-separated. The
// initiator/responder order is fixed by we_started_it, never by
// lexicographic comparison of the two sides.
func sasInfo(initiatorUser, initiatorDevice, initiatorKey, responderUser, responderDevice, responderKey, txnID string) []byte {
	return []byte(fmt.Sprintf(
		"MATRIX_KEY_VERIFICATION_SAS|%s|%s|%s|%s|%s|%s|%s",
		initiatorUser, initiatorDevice, initiatorKey,
		responderUser, responderDevice, responderKey,
		txnID,
	))
}

// DeriveSASBytes runs HKDF-SHA-256 over the ECDH shared secret with the
// info string of spec.md §4.1 and returns 6 bytes: enough for the emoji
// renderer's 7 groups of 6 bits (42 of the 48 available bits) and, when
// truncated to 5, the decimal renderer's 3 groups of 13 bits.
func DeriveSASBytes(shared []byte, initiatorUser, initiatorDevice, initiatorKey, responderUser, responderDevice, responderKey, txnID string) ([]byte, error) {
	info := sasInfo(initiatorUser, initiatorDevice, initiatorKey, responderUser, responderDevice, responderKey, txnID)
	r := hkdf.New(sha256.New, shared, nil, info)
	out := make([]byte, 6)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("crypto: derive SAS bytes: %w", err)
	}
	return out, nil
}

// KeysMACKeyID is the key-id passed to DeriveMACKey when deriving the
// key used to MAC the sorted, comma-joined list of key ids (the "keys"
// field of an m.key.verification.mac event), as opposed to a MAC key
// for one specific key-id's material.
const KeysMACKeyID = "KEY_IDS"

// DeriveMACKey runs HKDF-SHA-256 with the MAC info string of spec.md
// §4.1: the literal "MATRIX_KEY_VERIFICATION_MAC" label, the sender's
// user/device id, the receiver's user/device id, the transaction id,
// and the key id being MAC'd (so each entry in an event's "mac" map,
// and the "keys" field itself, use an independently derived key).
func DeriveMACKey(shared []byte, senderUser, senderDevice, receiverUser, receiverDevice, txnID, keyID string) ([]byte, error) {
	info := []byte(fmt.Sprintf(
		"MATRIX_KEY_VERIFICATION_MAC|%s|%s|%s|%s|%s|%s",
		senderUser, senderDevice, receiverUser, receiverDevice, txnID, keyID,
	))
	r := hkdf.New(sha256.New, shared, nil, info)
	out := make([]byte, 32)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("crypto: derive MAC key: %w", err)
	}
	return out, nil
}

// MAC computes an HMAC-SHA-256 over message under key and returns the
// unpadded base64 encoding used on the wire for the "mac" map values.
func MAC(key, message []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(message)
	return base64.RawStdEncoding.EncodeToString(h.Sum(nil))
}

// VerifyMAC recomputes the MAC and compares it to want in constant time.
func VerifyMAC(key, message []byte, want string) bool {
	got := MAC(key, message)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// Commitment computes the SHA-256 commitment hash that binds a
// responder's ephemeral public key to the verbatim bytes of the
// initiator's start payload, per spec.md §4.2 and §9's strict
// requirement to hash the bytes as transmitted rather than a
// re-canonicalized copy.
func Commitment(responderKeyBase64 string, startPayloadBytes []byte) string {
	h := sha256.New()
	h.Write(startPayloadBytes)
	h.Write([]byte(responderKeyBase64))
	return base64.RawStdEncoding.EncodeToString(h.Sum(nil))
}

// NewTransactionID returns 16 random bytes, hex-encoded, as the
// transaction id for a new verification session (spec.md §4.1).
func NewTransactionID() (string, error) {
	var b [16]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
		return "", fmt.Errorf("crypto: generate transaction id: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
