// Package password turns plaintext credentials into irreversible argon2id hashes
// and checks candidates against them.
//
// Hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// The engine hashes once at registration or password reset and never keeps the
// plaintext afterwards. [Argon2.NeedsRehash] lets login upgrade hashes produced
// with weaker parameters; [Argon2.VerifyDummy] equalizes timing for unknown
// accounts.
package password
