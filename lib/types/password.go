/*
Copyright 2024 Regents of the University of California

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package types

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"strings"

	"github.com/gravitational/trace"
	"github.com/openwall/yescrypt-go"
)

// yescryptSetting is the fixed cost prefix for password hashes. All
// hashes this tool writes use the same parameters so that directory
// servers with a matching crypt(3) can verify them.
const yescryptSetting = "$y$j9T$"

// cryptAlphabet is the crypt(3) base64 alphabet used for salt
// encoding.
const cryptAlphabet = "./0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// cryptEncode encodes b in the little-endian 6-bit groups crypt(3)
// expects.
func cryptEncode(b []byte) string {
	var sb strings.Builder
	for i := 0; i < len(b); i += 3 {
		var v uint32
		n := 0
		for j := 0; j < 3 && i+j < len(b); j++ {
			v |= uint32(b[i+j]) << (8 * j)
			n++
		}
		for j := 0; j <= n; j++ {
			sb.WriteByte(cryptAlphabet[v&0x3f])
			v >>= 6
		}
	}
	return sb.String()
}

// HashPassword hashes a cleartext password with yescrypt under the
// fixed setting and a fresh random salt. The result is a full crypt
// string beginning with "$y$".
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", trace.BadParameter("password is empty")
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", trace.Wrap(err)
	}
	setting := yescryptSetting + cryptEncode(salt)
	hash, err := yescrypt.Hash([]byte(password), []byte(setting))
	if err != nil {
		return "", trace.Wrap(err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches a stored yescrypt
// hash.
func VerifyPassword(password, hash string) bool {
	if hash == "" {
		return false
	}
	computed, err := yescrypt.Hash([]byte(password), []byte(hash))
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(computed, []byte(hash)) == 1
}

// passwordEncoding renders random bytes as a lowercase password
// without padding.
var passwordEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GeneratePassword returns a random cleartext password built from n
// random bytes.
func GeneratePassword(n int) (string, error) {
	if n <= 0 {
		return "", trace.BadParameter("password length must be positive")
	}
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", trace.Wrap(err)
	}
	return strings.ToLower(passwordEncoding.EncodeToString(raw)), nil
}
