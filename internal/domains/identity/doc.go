// Package identity provides the public domain facade for account identity
// and session flows over the graph store.
//
// Package layout:
// - policy: credential rules and identity id derivation
// - ports: boundary interfaces used by usecases
// - registry: alias to public key resolution and registration
// - sessioncodec: sealed session envelopes and their storage
// - usecase: signup, login, restore and logout orchestration
//
// External callers should use NewService as the stable entrypoint.
package identity
