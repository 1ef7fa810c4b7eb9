// Package password hashes and verifies the optional password first factor
// with argon2id.
//
// Hashes are PHC strings with unpadded base64 salt and key:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<key>
//
// Verification always uses the costs stored in the hash, so raising the
// configured costs never locks anyone out. [Hasher.NeedsRehash] flags hashes
// made with lower costs; the engine rehashes them after a successful login
// when the directory accepts updates.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. The directory owns the stored hash.
//   - Import any other goLinkAuth package.
//   - Log plaintext passwords.
package password
