// Package document defines the core value types of the sync engine:
// store scopes, document and collection keys, property maps, mutation
// ops, and the fixed-width version encoding shared by the local ledger
// and the remote API contract.
//
// Everything in this package is plain data. Persistence lives in
// internal/store; behavior lives in the engine packages.
package document
