// Package storage provides persistence backends for the trust ledger and
// the sealed local identity.
//
// Every backend satisfies trust.Persister, so a trust.Store can be backed by
// any of them:
//
//	backend, err := storage.NewFileBackend(dataDir)
//	store := trust.NewStore(backend)
//	err = store.Load(ctx)
//
// Available backends:
//
//   - MemoryBackend: process memory, for tests and ephemeral nodes
//   - FileBackend: JSON file with atomic replace
//   - RedisBackend: Redis hash
//   - MongoBackend: MongoDB collection
//
// Identity blobs must be sealed with identity.Seal before they are saved.
package storage
