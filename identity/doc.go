// Package identity provides a reference implementation of the
// re-authentication collaborator: Argon2id password hashes in PHC format and
// a PasswordAuthenticator that checks a submitted password against the hash
// a lookup function returns.
//
// Hashes look like
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// The package never stores passwords. Applications that already own a user
// store plug their hash lookup into NewPasswordAuthenticator.
package identity
